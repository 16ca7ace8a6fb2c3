// Package prefs is the YAML-backed preference store consulted by the engine
// and the notifier.
//
// Preferences live in <dir>/preferences.yaml, with one global scope and one
// scope per account. Every write bumps the change time; the engine compares
// it with the examine time to decide when to re-read preferences and
// reschedule the alarm.
package prefs

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	yamlv3 "gopkg.in/yaml.v3"

	yamlutil "github.com/msageha/statusd/internal/yaml"
)

// Preference keys read by statusd.
const (
	KeyAutomaticUpdates      = "automatic_updates"
	KeyFetchFrequency        = "fetch_frequency"
	KeyNotificationsEnabled  = "notifications_enabled"
	KeyVibration             = "vibration"
	KeyNotificationsMessages = "notifications_messages"
	KeyNotificationsMentions = "notifications_mentions"
	KeyNotificationsTimeline = "notifications_timeline"
)

const FileName = "preferences.yaml"

type document struct {
	yamlutil.Header `yaml:",inline"`
	ChangeTime      int64                     `yaml:"change_time"`
	ExamineTime     int64                     `yaml:"examine_time"`
	Global          map[string]any            `yaml:"global"`
	Accounts        map[string]map[string]any `yaml:"accounts"`
}

func newDocument() document {
	return document{
		Header:   yamlutil.NewHeader(yamlutil.FileTypePreferences),
		Global:   map[string]any{},
		Accounts: map[string]map[string]any{},
	}
}

// Option configures the Store.
type Option func(*Store)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock replaces the wall clock used for change and examine times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	dir    string
	path   string
	doc    document
	now    func() time.Time
	logger *zap.SugaredLogger
}

// Open loads <dir>/preferences.yaml. A missing file yields empty
// preferences; a corrupted one is quarantined and recovered.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:    dir,
		path:   filepath.Join(dir, FileName),
		doc:    newDocument(),
		now:    time.Now,
		logger: zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(s)
	}
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) load() (document, error) {
	doc := newDocument()
	_, err := yamlutil.Load(s.path, yamlutil.FileTypePreferences, &doc)
	var corrupt *yamlutil.CorruptError
	if errors.As(err, &corrupt) {
		rec, rerr := yamlutil.RecoverCorruptedFile(s.dir, s.path, yamlutil.FileTypePreferences)
		if rerr != nil {
			return doc, fmt.Errorf("recover preferences: %w", rerr)
		}
		s.logger.Warnf("preferences_recovered quarantined=%s from_backup=%t error=%v",
			rec.QuarantinedTo, rec.FromBackup, corrupt.Err)
		doc = newDocument()
		_, err = yamlutil.Load(s.path, yamlutil.FileTypePreferences, &doc)
	}
	if err != nil {
		return doc, fmt.Errorf("load preferences: %w", err)
	}
	if doc.Global == nil {
		doc.Global = map[string]any{}
	}
	if doc.Accounts == nil {
		doc.Accounts = map[string]map[string]any{}
	}
	return doc, nil
}

// Reload re-reads the file after an outside edit. When the stored values
// differ from the ones in memory the change time is advanced to now, so a
// hand edit counts as a preference change. It reports whether anything
// changed.
func (s *Store) Reload() (bool, error) {
	doc, err := s.load()
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := doc.ChangeTime > s.doc.ChangeTime
	if !sameValues(s.doc, doc) {
		changed = true
		if now := s.now().UnixMilli(); now > doc.ChangeTime {
			doc.ChangeTime = now
		}
	}
	if doc.ChangeTime < s.doc.ChangeTime {
		doc.ChangeTime = s.doc.ChangeTime
	}
	if doc.ExamineTime < s.doc.ExamineTime {
		doc.ExamineTime = s.doc.ExamineTime
	}
	s.doc = doc
	return changed, nil
}

func sameValues(a, b document) bool {
	ga, err1 := yamlv3.Marshal(a.Global)
	gb, err2 := yamlv3.Marshal(b.Global)
	aa, err3 := yamlv3.Marshal(a.Accounts)
	ab, err4 := yamlv3.Marshal(b.Accounts)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return false
	}
	return bytes.Equal(ga, gb) && bytes.Equal(aa, ab)
}

// lookup consults the account scope first and falls back to global.
func (s *Store) lookup(scope, key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if scope != "" {
		if v, ok := s.doc.Accounts[scope][key]; ok {
			return v, true
		}
	}
	v, ok := s.doc.Global[key]
	return v, ok
}

func (s *Store) Contains(scope, key string) bool {
	_, ok := s.lookup(scope, key)
	return ok
}

func (s *Store) Bool(scope, key string, def bool) bool {
	v, ok := s.lookup(scope, key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

func (s *Store) Int64(scope, key string, def int64) int64 {
	v, ok := s.lookup(scope, key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

func (s *Store) String(scope, key, def string) string {
	v, ok := s.lookup(scope, key)
	if !ok || v == nil {
		return def
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

func (s *Store) PutBool(scope, key string, v bool) error     { return s.put(scope, key, v) }
func (s *Store) PutLong(scope, key string, v int64) error    { return s.put(scope, key, v) }
func (s *Store) PutString(scope, key string, v string) error { return s.put(scope, key, v) }

func (s *Store) put(scope, key string, v any) error {
	if key == "" {
		return fmt.Errorf("empty preference key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	values := s.doc.Global
	if scope != "" {
		values = s.doc.Accounts[scope]
		if values == nil {
			values = map[string]any{}
			s.doc.Accounts[scope] = values
		}
	}
	values[key] = v
	if now := s.now().UnixMilli(); now > s.doc.ChangeTime {
		s.doc.ChangeTime = now
	} else {
		s.doc.ChangeTime++
	}
	return s.saveLocked()
}

// ChangeTime is the unix-millisecond time of the last preference change.
func (s *Store) ChangeTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.ChangeTime
}

// ExamineTime is the unix-millisecond time preferences were last examined.
func (s *Store) ExamineTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.ExamineTime
}

func (s *Store) SetExamineTime(ms int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ExamineTime = ms
	return s.saveLocked()
}

// Now is the store clock in unix milliseconds.
func (s *Store) Now() int64 { return s.now().UnixMilli() }

func (s *Store) saveLocked() error {
	if err := yamlutil.AtomicWrite(s.path, s.doc); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}
