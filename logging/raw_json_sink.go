package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

const (
	EventsFilename  = "events.jsonl"
	ResultsFilename = "results.json"
)

// SuiteEvent is one line of events.jsonl, written as each suite result arrives
type SuiteEvent struct {
	Time   time.Time         `json:"time"`
	RunID  string            `json:"runId"`
	Action string            `json:"action"`
	Result types.SuiteResult `json:"result"`
}

// RawJSONSink writes machine-readable run artifacts: a line per suite result in
// events.jsonl and the full run summary in results.json.
type RawJSONSink struct {
	logger *FileLogger
}

// Consume appends a result event to events.jsonl
func (s *RawJSONSink) Consume(result types.SuiteResult) error {
	writer, err := s.logger.getAsyncWriter(filepath.Join(s.logger.logDir, EventsFilename))
	if err != nil {
		return err
	}
	line, err := json.Marshal(SuiteEvent{
		Time:   time.Now().UTC(),
		RunID:  s.logger.runID,
		Action: string(result.Status),
		Result: result,
	})
	if err != nil {
		return fmt.Errorf("failed to encode suite event: %w", err)
	}
	return writer.Write(append(line, '\n'))
}

// Complete writes results.json
func (s *RawJSONSink) Complete(summary types.RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	path := filepath.Join(s.logger.logDir, ResultsFilename)
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadSummary loads the results.json written for a run
func ReadSummary(baseDir, runID string) (types.RunSummary, error) {
	var summary types.RunSummary
	data, err := os.ReadFile(filepath.Join(RunDirectory(baseDir, runID), ResultsFilename))
	if err != nil {
		return summary, fmt.Errorf("failed to read run summary: %w", err)
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return summary, fmt.Errorf("failed to decode run summary: %w", err)
	}
	return summary, nil
}
