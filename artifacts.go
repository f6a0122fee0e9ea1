package gatekeeper

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethereum-optimism/infra/op-gatekeeper/analyzer"
	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// StdioPath selects stdin or stdout instead of a file
const StdioPath = "-"

// ChangeAnalysis is the output of the analyze stage
type ChangeAnalysis struct {
	Changes types.ChangeSet `json:"changes"`
	analyzer.Analysis
}

// ExecutionResults is the output of the execute stage
type ExecutionResults struct {
	RunID   string              `json:"runId"`
	Planned []string            `json:"planned"`
	Results []types.SuiteResult `json:"results"`
}

// WriteArtifact encodes v as indented JSON to path, or to stdout when path is "-" or empty
func WriteArtifact(path string, v interface{}) error {
	if path == "" || path == StdioPath {
		return encodeArtifact(os.Stdout, v)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating artifact %s: %w", path, err)
	}
	if err := encodeArtifact(f, v); err != nil {
		f.Close()
		return fmt.Errorf("writing artifact %s: %w", path, err)
	}
	return f.Close()
}

func encodeArtifact(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ReadArtifact decodes the JSON artifact at path into v; "-" reads stdin.
// Unknown fields are rejected so a stage never consumes another stage's artifact.
func ReadArtifact(path string, v interface{}) error {
	var r io.Reader
	if path == StdioPath {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening artifact: %w", err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding artifact %s: %w", path, err)
	}
	return nil
}
