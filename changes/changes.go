// Package changes captures the ChangeSet that drives suite selection
package changes

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// Source produces the ChangeSet for one invocation
type Source interface {
	Capture(ctx context.Context) (types.ChangeSet, error)
}

// Parse reads a change list. A document starting with '{' is decoded as
// {"paths": [...], "base": "...", "head": "..."}; anything else is one path per
// line, with blank lines and '#' comments ignored.
func Parse(r io.Reader) (types.ChangeSet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return types.ChangeSet{}, fmt.Errorf("reading change list: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var cs types.ChangeSet
		if err := json.Unmarshal(trimmed, &cs); err != nil {
			return types.ChangeSet{}, fmt.Errorf("decoding change list: %w", err)
		}
		return cs, nil
	}

	var paths []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return types.ChangeSet{}, fmt.Errorf("scanning change list: %w", err)
	}
	return types.NewChangeSet(paths, "", ""), nil
}

// FileSource reads a change list from a file, or from Stdin when Path is "-"
type FileSource struct {
	Path  string
	Stdin io.Reader
}

var _ Source = FileSource{}

// Capture implements Source
func (f FileSource) Capture(ctx context.Context) (types.ChangeSet, error) {
	if err := ctx.Err(); err != nil {
		return types.ChangeSet{}, err
	}
	if f.Path == "-" {
		in := f.Stdin
		if in == nil {
			in = os.Stdin
		}
		return Parse(in)
	}
	file, err := os.Open(f.Path)
	if err != nil {
		return types.ChangeSet{}, fmt.Errorf("opening change list: %w", err)
	}
	defer file.Close()
	return Parse(file)
}

// StaticSource returns a fixed list of paths
type StaticSource struct {
	Paths []string
	Base  string
	Head  string
}

var _ Source = StaticSource{}

// Capture implements Source
func (s StaticSource) Capture(ctx context.Context) (types.ChangeSet, error) {
	return types.NewChangeSet(s.Paths, s.Base, s.Head), ctx.Err()
}
