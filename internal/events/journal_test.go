package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/statusd/internal/model"
)

func TestJournal_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", JournalFileName)
	j, err := NewJournal(path, 0, 0)
	require.NoError(t, err)

	reg := NewRegistry(nil)
	reg.Register("journal", j)
	snap := reg.Snapshot()
	reg.Broadcast(snap, NewItems(model.TimelineHome, 3))
	reg.Broadcast(snap, DataLoading(false))
	require.NoError(t, j.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var entries []JournalEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e JournalEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].Seq)
	assert.Equal(t, EventNewItems, entries[0].Type)
	assert.Equal(t, model.TimelineHome, entries[0].Timeline)
	assert.Equal(t, 3, entries[0].Count)
	assert.Equal(t, EventDataLoading, entries[1].Type)
}

func TestJournal_ChecksumVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), JournalFileName)
	j, err := NewJournal(path, 1, 1)
	require.NoError(t, err)
	j.EnableChecksum(true)

	require.NoError(t, j.HandleEvent(RateLimit(5, 150)))
	require.NoError(t, j.HandleEvent(NewItems(model.TimelineDirect, 1)))
	require.NoError(t, j.Close())

	total, valid, err := VerifyJournal(path)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 2, valid)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"remaining":5`, `"remaining":6`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	total, valid, err = VerifyJournal(path)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, valid)
}
