package tracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-parity/internal/nn/native"
)

func TestDefault(t *testing.T) {
	tbl, err := Default()
	require.NoError(t, err)

	gelu, err := tbl.Lookup("native.GELU")
	require.NoError(t, err)
	assert.False(t, gelu.HasParity)
	assert.NotEmpty(t, gelu.Note)

	emb, err := tbl.Lookup("native.Embedding")
	require.NoError(t, err)
	assert.True(t, emb.HasParity)
	assert.True(t, emb.ImplementedOn("cpu"))
	assert.False(t, emb.ImplementedOn("metal"))

	for _, name := range tbl.Names() {
		assert.True(t, native.Has(name[len("native."):]), "%s is tracked but not implemented", name)
	}
}

func TestLookupMissing(t *testing.T) {
	tbl, err := Parse([]byte("native:\n  native.ReLU:\n    has_parity: true\n"))
	require.NoError(t, err)
	_, err = tbl.Lookup("native.Conv2d")
	assert.ErrorIs(t, err, ErrNotTracked)
	assert.Equal(t, []string{"native.ReLU"}, tbl.Names())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"no entries", "native: {}\n"},
		{"unknown field", "native:\n  native.ReLU:\n    has_parity: true\n    owner: nobody\n"},
		{"wrong type", "native:\n  native.ReLU:\n    has_parity: maybe\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parity.yaml")
	require.NoError(t, os.WriteFile(path, []byte("native:\n  native.Tanh:\n    has_parity: false\n"), 0o600))
	tbl, err := Load(path)
	require.NoError(t, err)
	s, err := tbl.Lookup("native.Tanh")
	require.NoError(t, err)
	assert.False(t, s.HasParity)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
