package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChangeSet(t *testing.T) {
	cs := NewChangeSet([]string{"./src/a.go", "src/a.go", "", "  docs/readme.md ", "src/b.go"}, "main", "HEAD")

	assert.Equal(t, []string{"src/a.go", "docs/readme.md", "src/b.go"}, cs.Paths())
	assert.Equal(t, 3, cs.Len())
	assert.Equal(t, "main", cs.Base)
	assert.False(t, cs.IsEmpty())
}

func TestChangeSet_PathsIsCopy(t *testing.T) {
	cs := NewChangeSet([]string{"a", "b"}, "", "")
	paths := cs.Paths()
	paths[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, cs.Paths())
}

func TestChangeSet_JSON(t *testing.T) {
	cs := NewChangeSet([]string{"a/b.go"}, "abc", "def")
	data, err := json.Marshal(cs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"paths":["a/b.go"],"base":"abc","head":"def"}`, string(data))

	var decoded ChangeSet
	require.NoError(t, json.Unmarshal([]byte(`{"paths":["./x","x","y"]}`), &decoded))
	assert.Equal(t, []string{"x", "y"}, decoded.Paths())

	empty, err := json.Marshal(ChangeSet{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"paths":[]}`, string(empty))
}
