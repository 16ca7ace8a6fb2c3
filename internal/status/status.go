// Package status reports daemon liveness and queue depths.
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/msageha/statusd/internal/events"
	"github.com/msageha/statusd/internal/lock"
	"github.com/msageha/statusd/internal/uds"
	atomicyaml "github.com/msageha/statusd/internal/yaml"
)

// Report is the status view. Persisted lists queue snapshots on disk,
// which exist only while the daemon is stopped.
type Report struct {
	Daemon    DaemonStatus      `json:"daemon"`
	Engine    *uds.StatusResult `json:"engine,omitempty"`
	Persisted []QueueSnapshot   `json:"persisted,omitempty"`
	Journal   *JournalStatus    `json:"journal,omitempty"`
}

// JournalStatus counts journal entries and those whose checksum matches.
type JournalStatus struct {
	Entries int `json:"entries"`
	Valid   int `json:"valid"`
}

type DaemonStatus struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

type QueueSnapshot struct {
	Name     string `json:"name"`
	Commands int    `json:"commands"`
}

// Run collects the report for dir and writes it to w.
func Run(dir string, jsonOutput bool, w io.Writer) error {
	r := Collect(dir)
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	printReport(w, r)
	return nil
}

// Collect asks the daemon for its status and falls back to the lock file
// and the persisted snapshots when it does not answer.
func Collect(dir string) Report {
	var r Report
	client := uds.NewClient(filepath.Join(dir, uds.DefaultSocketName))
	var st uds.StatusResult
	if err := client.Call(uds.CommandStatus, nil, &st); err == nil {
		r.Daemon = DaemonStatus{Running: true, PID: st.PID}
		r.Engine = &st
	} else {
		r.Daemon = DaemonStatus{PID: lock.ReadPID(filepath.Join(dir, "locks", "daemon.lock"))}
	}
	r.Persisted = persistedQueues(dir)
	if total, valid, err := events.VerifyJournal(filepath.Join(dir, "logs", events.JournalFileName)); err == nil {
		r.Journal = &JournalStatus{Entries: total, Valid: valid}
	}
	return r
}

type snapshotCount struct {
	Commands map[int]yaml.Node `yaml:"commands"`
}

func persistedQueues(dir string) []QueueSnapshot {
	queueDir := filepath.Join(dir, "queue")
	entries, err := os.ReadDir(queueDir)
	if err != nil {
		return nil
	}

	var out []QueueSnapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(queueDir, entry.Name()))
		if err != nil {
			continue
		}
		if err := atomicyaml.CheckHeader(data, atomicyaml.FileTypeQueueSnapshot); err != nil {
			continue
		}
		var sc snapshotCount
		if err := yaml.Unmarshal(data, &sc); err != nil {
			continue
		}
		out = append(out, QueueSnapshot{
			Name:     strings.TrimSuffix(entry.Name(), ".yaml"),
			Commands: len(sc.Commands),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func printReport(w io.Writer, r Report) {
	switch {
	case r.Daemon.Running:
		fmt.Fprintf(w, "Daemon: running (pid %d)\n", r.Daemon.PID)
	case r.Daemon.PID > 0:
		fmt.Fprintf(w, "Daemon: not responding (lock held by pid %d)\n", r.Daemon.PID)
	default:
		fmt.Fprintln(w, "Daemon: stopped")
	}

	if e := r.Engine; e != nil {
		fmt.Fprintf(w, "\nEngine:\n")
		fmt.Fprintf(w, "  restored=%t running=%t online=%t listeners=%d\n", e.Restored, e.Running, e.Online, e.Listeners)
		fmt.Fprintf(w, "  %-8s %5s\n", "QUEUE", "DEPTH")
		fmt.Fprintf(w, "  %-8s %5d\n", "main", e.Main)
		fmt.Fprintf(w, "  %-8s %5d\n", "retry", e.Retry)
		if e.Alarm != "" {
			fmt.Fprintf(w, "  alarm: %s\n", e.Alarm)
		} else {
			fmt.Fprintln(w, "  alarm: off")
		}
	}

	if len(r.Persisted) > 0 {
		fmt.Fprintln(w, "\nPersisted queues:")
		for _, q := range r.Persisted {
			fmt.Fprintf(w, "  %-20s %5d\n", q.Name, q.Commands)
		}
	}

	if j := r.Journal; j != nil {
		fmt.Fprintf(w, "\nJournal: %d entries", j.Entries)
		if bad := j.Entries - j.Valid; bad > 0 {
			fmt.Fprintf(w, ", %d failed checksum", bad)
		}
		fmt.Fprintln(w)
	}
}
