package prefs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func TestOpen_MissingFile(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.ChangeTime())
	assert.False(t, s.Bool("", KeyAutomaticUpdates, false))
	assert.Equal(t, int64(180), s.Int64("", KeyFetchFrequency, 180))
}

func TestPut_BumpsChangeTimeAndPersists(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	s, err := Open(dir, WithClock(clock.Now))
	require.NoError(t, err)

	require.NoError(t, s.PutBool("", KeyAutomaticUpdates, true))
	first := s.ChangeTime()
	assert.Equal(t, clock.t.UnixMilli(), first)

	// Same clock reading still moves the change time forward.
	require.NoError(t, s.PutLong("", KeyFetchFrequency, 60))
	assert.Greater(t, s.ChangeTime(), first)

	require.NoError(t, s.PutString("alice", "ringtone", "bell"))

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.True(t, reopened.Bool("", KeyAutomaticUpdates, false))
	assert.Equal(t, int64(60), reopened.Int64("", KeyFetchFrequency, 180))
	assert.Equal(t, "bell", reopened.String("alice", "ringtone", ""))
	assert.Equal(t, "", reopened.String("", "ringtone", ""))
	assert.Equal(t, s.ChangeTime(), reopened.ChangeTime())
}

func TestAccountScopeFallsBackToGlobal(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.PutBool("", KeyNotificationsEnabled, true))
	require.NoError(t, s.PutBool("bob", KeyNotificationsEnabled, false))

	assert.True(t, s.Bool("alice", KeyNotificationsEnabled, false))
	assert.False(t, s.Bool("bob", KeyNotificationsEnabled, true))
	assert.True(t, s.Contains("alice", KeyNotificationsEnabled))
	assert.False(t, s.Contains("alice", KeyVibration))
}

func TestExamineTime(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.SetExamineTime(12345))

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(12345), reopened.ExamineTime())
}

func TestReload_HandEditCountsAsChange(t *testing.T) {
	dir := t.TempDir()
	clock := newClock()
	s, err := Open(dir, WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, s.PutBool("", KeyAutomaticUpdates, false))
	before := s.ChangeTime()

	changed, err := s.Reload()
	require.NoError(t, err)
	assert.False(t, changed, "reloading our own write is not a change")

	require.NoError(t, os.WriteFile(s.Path(), []byte(
		"schema_version: 1\nfile_type: preferences\nchange_time: 1\nexamine_time: 0\nglobal:\n  automatic_updates: true\naccounts: {}\n"), 0644))

	clock.Advance(time.Minute)
	changed, err = s.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, s.Bool("", KeyAutomaticUpdates, false))
	assert.Greater(t, s.ChangeTime(), before)
}

func TestOpen_CorruptFileRecovered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("global: [\n"), 0644))

	s, err := Open(dir)
	require.NoError(t, err)
	assert.False(t, s.Bool("", KeyAutomaticUpdates, false))

	entries, err := os.ReadDir(filepath.Join(dir, "quarantine"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
