package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRecordFile_ValidJSONRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.json")
	rec := Record{ID: uuid.New(), UserID: "u1", Kind: KindEpisodic, Text: "hi", CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	got, err := readRecordFile(path)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "hi", got.Text)
}

func TestReadRecordFile_RejectsPickleMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.bin")
	require.NoError(t, os.WriteFile(path, []byte("\x80\x04legacy pickle payload"), 0o600))

	_, err := readRecordFile(path)
	require.Error(t, err)
}

func TestReadRecordFile_RejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not valid"), 0o600))

	_, err := readRecordFile(path)
	require.Error(t, err)
}
