// Package types contains the data model shared by the op-gatekeeper stages
package types

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// ChangeSet is the ordered, de-duplicated list of changed paths driving suite selection.
// It is immutable once created; Paths returns a copy.
type ChangeSet struct {
	paths []string
	Base  string
	Head  string
}

// NewChangeSet normalizes paths to forward slashes, strips a leading "./",
// drops empty entries and keeps the first occurrence of each path.
func NewChangeSet(paths []string, base, head string) ChangeSet {
	seen := make(map[string]struct{}, len(paths))
	normalized := make([]string, 0, len(paths))
	for _, p := range paths {
		p = NormalizePath(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return ChangeSet{paths: normalized, Base: base, Head: head}
}

// NormalizePath converts a changed path into the form matched by component patterns
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	p = filepath.ToSlash(p)
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}

// Paths returns a copy of the changed paths in input order
func (c ChangeSet) Paths() []string {
	out := make([]string, len(c.paths))
	copy(out, c.paths)
	return out
}

// Len returns the number of distinct changed paths
func (c ChangeSet) Len() int {
	return len(c.paths)
}

// IsEmpty reports whether nothing changed
func (c ChangeSet) IsEmpty() bool {
	return len(c.paths) == 0
}

type changeSetJSON struct {
	Paths []string `json:"paths"`
	Base  string   `json:"base,omitempty"`
	Head  string   `json:"head,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (c ChangeSet) MarshalJSON() ([]byte, error) {
	paths := c.paths
	if paths == nil {
		paths = []string{}
	}
	return json.Marshal(changeSetJSON{Paths: paths, Base: c.Base, Head: c.Head})
}

// UnmarshalJSON implements json.Unmarshaler, applying the same normalization as NewChangeSet
func (c *ChangeSet) UnmarshalJSON(data []byte) error {
	var raw changeSetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = NewChangeSet(raw.Paths, raw.Base, raw.Head)
	return nil
}
