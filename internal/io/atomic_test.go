package io

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first")))
	require.NoError(t, WriteFileAtomic(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "state.json", entries[0].Name())
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"count": 2}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2}`, string(data))
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}

func TestAppendLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")

	require.NoError(t, AppendLine(path, []byte(`{"n":1}`)))
	require.NoError(t, AppendLine(path, []byte(`{"n":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":1}\n{\"n\":2}\n", string(data))
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intent.json")
	assert.NoError(t, RemoveIfExists(path))

	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	assert.NoError(t, RemoveIfExists(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

// faultyFile wraps a real file and fails Write after half the buffer, or Sync.
type faultyFile struct {
	*os.File
	failWrite bool
	failSync  bool
}

func (f *faultyFile) Write(p []byte) (int, error) {
	if f.failWrite {
		n, _ := f.File.Write(p[:len(p)/2])
		return n, errors.New("no space left on device")
	}
	return f.File.Write(p)
}

func (f *faultyFile) Sync() error {
	if f.failSync {
		return errors.New("input/output error")
	}
	return f.File.Sync()
}

func TestAppendWithRollback(t *testing.T) {
	tests := []struct {
		name      string
		failWrite bool
		failSync  bool
		wantErr   string
	}{
		{name: "torn_write", failWrite: true, wantErr: "write: no space left"},
		{name: "sync_failure", failSync: true, wantErr: "sync: input/output error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "log.jsonl")
			require.NoError(t, AppendLine(path, []byte(`{"n":1}`)))

			file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
			require.NoError(t, err)
			defer file.Close()

			f := &faultyFile{File: file, failWrite: tt.failWrite, failSync: tt.failSync}
			err = appendWithRollback(f, []byte("{\"n\":2,\"pad\":\"xxxxxxxxxxxxxxxx\"}\n"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "{\"n\":1}\n", string(data), "file is back at its prior length")

			require.NoError(t, AppendLine(path, []byte(`{"n":3}`)))
			data, err = os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "{\"n\":1}\n{\"n\":3}\n", string(data))
		})
	}
}
