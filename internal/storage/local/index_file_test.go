// Package local_test tests the on-disk index file.
package local_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/linkpreview/internal/storage/local"
)

type document struct {
	Entries map[string]string `json:"entries"`
}

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		file, err := local.New(local.Config{Path: filepath.Join(t.TempDir(), "index.json")})
		require.NoError(t, err)
		assert.NotNil(t, file)
	})

	t.Run("MissingPath", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("PathIsADirectory", func(t *testing.T) {
		_, err := local.New(local.Config{Path: t.TempDir()})
		assert.Error(t, err)
	})
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cache", "index.json")
	file, err := local.New(local.Config{Path: path})
	require.NoError(t, err)

	t.Run("LoadBeforeSave", func(t *testing.T) {
		var doc document
		assert.ErrorIs(t, file.Load(&doc), local.ErrNotExist)
	})

	t.Run("SaveCreatesParents", func(t *testing.T) {
		require.NoError(t, file.Save(document{Entries: map[string]string{"a": "1"}}))

		// #nosec G304 -- test reads from the controlled temp directory.
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "\n  \"entries\"")
	})

	t.Run("SaveReplacesWholeFile", func(t *testing.T) {
		require.NoError(t, file.Save(document{Entries: map[string]string{"b": "2"}}))

		var doc document
		require.NoError(t, file.Load(&doc))
		assert.Equal(t, map[string]string{"b": "2"}, doc.Entries)

		leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, leftovers)
	})

	t.Run("CorruptFile", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		var doc document
		err := file.Load(&doc)
		require.Error(t, err)
		assert.NotErrorIs(t, err, local.ErrNotExist)
	})
}
