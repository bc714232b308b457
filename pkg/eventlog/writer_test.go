package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegisprime/pkg/proto"
)

func readRecords(t *testing.T, dir string) []Record {
	t.Helper()
	path := filepath.Join(dir, "events-"+time.Now().Format("2006-01-02")+".jsonl")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestWriterAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	require.NoError(t, w.UserEvent("sess-1", proto.EventSubmitObjective, "launch email"))
	require.NoError(t, w.Transition("sess-1", proto.StateAwaitingObjective, proto.StateGeneratingStrategy))
	require.NoError(t, w.Generation("sess-1", "strategy", "model=m tokens=100"))
	require.NoError(t, w.Error("sess-1", "boom"))

	records := readRecords(t, dir)
	require.Len(t, records, 4)

	assert.Equal(t, KindUserEvent, records[0].Kind)
	assert.Equal(t, proto.EventSubmitObjective.String(), records[0].Event)
	assert.Equal(t, "launch email", records[0].Detail)

	assert.Equal(t, KindTransition, records[1].Kind)
	assert.Equal(t, proto.StateAwaitingObjective.String(), records[1].From)
	assert.Equal(t, proto.StateGeneratingStrategy.String(), records[1].To)

	assert.Equal(t, KindGeneration, records[2].Kind)
	assert.Equal(t, KindError, records[3].Kind)
	assert.Equal(t, "boom", records[3].Detail)

	for _, rec := range records {
		assert.Equal(t, "sess-1", rec.SessionID)
		assert.False(t, rec.Timestamp.IsZero())
	}
}

func TestWriterCloseAndReopenAppends(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.Error("s", "first"))
	require.NoError(t, w.Close())

	w2, err := NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w2.Error("s", "second"))
	require.NoError(t, w2.Close())

	records := readRecords(t, dir)
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].Detail)
	assert.Equal(t, "second", records[1].Detail)
}
