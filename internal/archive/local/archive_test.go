package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/archive/local"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		a, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, a)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "archive")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestPutPage(t *testing.T) {
	dir := t.TempDir()
	a, err := local.New(local.Config{BaseDir: dir, Prefix: "raw"})
	require.NoError(t, err)

	body := []byte(`[{"page":1,"pages":1},[]]`)
	uri, err := a.PutPage(context.Background(), etl.PageRef{RunID: "run-1", Page: 1, Digest: "abc"}, body)
	require.NoError(t, err)

	want := filepath.Join(dir, "raw", "run-1", "page-0001-abc.json")
	assert.Equal(t, "file://"+want, uri)
	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	_, err = a.PutPage(context.Background(), etl.PageRef{RunID: "..", Page: 1, Digest: "abc"}, body)
	assert.Error(t, err)
}
