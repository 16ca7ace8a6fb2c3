package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// DefaultJournalMaxSizeMB is the size at which the journal rotates.
	DefaultJournalMaxSizeMB = 100
	JournalFileName         = "events.jsonl"
)

// JournalEntry is one line of the journal.
type JournalEntry struct {
	Event
	Seq      uint64 `json:"seq"`
	Checksum string `json:"checksum,omitempty"`
}

// Journal is an append-only JSONL listener. Every event it receives becomes
// one line in the journal file; rotated files are kept by lumberjack.
type Journal struct {
	mu             sync.Mutex
	out            *lumberjack.Logger
	seq            uint64
	enableChecksum bool
}

var _ Listener = (*Journal)(nil)

// NewJournal opens (or creates) the journal at path.
func NewJournal(path string, maxSizeMB, maxBackups int) (*Journal, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultJournalMaxSizeMB
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return &Journal{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			LocalTime:  false,
		},
	}, nil
}

// EnableChecksum makes every following entry carry a checksum of its content.
func (j *Journal) EnableChecksum(enable bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.enableChecksum = enable
}

func (j *Journal) HandleEvent(ev Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	entry := JournalEntry{Event: ev, Seq: j.seq}
	if j.enableChecksum {
		entry.Checksum = checksum(entry)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := j.out.Write(data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

func (j *Journal) Path() string { return j.out.Filename }

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.out.Close()
}

func checksum(entry JournalEntry) string {
	entry.Checksum = ""
	data, err := json.Marshal(entry)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", djb2(data))
}

func djb2(data []byte) uint64 {
	var hash uint64 = 5381
	for _, b := range data {
		hash = ((hash << 5) + hash) + uint64(b)
	}
	return hash
}

// VerifyJournal reads a journal file and returns the number of decodable
// entries and how many of them are valid. Entries without a checksum count
// as valid.
func VerifyJournal(path string) (total, valid int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for dec.More() {
		var entry JournalEntry
		if err := dec.Decode(&entry); err != nil {
			return total, valid, fmt.Errorf("decode journal entry %d: %w", total+1, err)
		}
		total++
		if entry.Checksum == "" || entry.Checksum == checksum(entry) {
			valid++
		}
	}
	return total, valid, nil
}
