package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "docqa.db")
	require.NoError(t, os.WriteFile(db, []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(db+"-wal", []byte("abc"), 0o644))

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"single file", []string{db}, 5},
		{"database and wal", []string{db, db + "-wal", db + "-shm"}, 8},
		{"directory", []string{dir}, 8},
		{"empty and missing paths", []string{"", filepath.Join(dir, "missing")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileStorage_UsageBytesCountsRecordsOnly(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	empty, err := s.UsageBytes()
	require.NoError(t, err)
	assert.Zero(t, empty)

	require.NoError(t, s.Save(ctx, readyDoc("d1")))
	info, err := os.Stat(filepath.Join(s.Dir(), "doc_d1.json"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ".doc_d2-123.tmp"), []byte("partial write"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("unrelated"), 0o600))

	got, err := s.UsageBytes()
	require.NoError(t, err)
	assert.Equal(t, info.Size(), got)
}
