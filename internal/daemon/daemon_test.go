package daemon

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/remote"
	"github.com/msageha/statusd/internal/uds"
)

type recordingConnector struct {
	mu    sync.Mutex
	calls []string
}

func (c *recordingConnector) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *recordingConnector) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *recordingConnector) FetchTimeline(_ context.Context, tl model.Timeline) (remote.TimelineResult, error) {
	c.record("fetch:" + string(tl))
	return remote.TimelineResult{}, nil
}

func (c *recordingConnector) UpdateStatus(_ context.Context, text, _ string) (remote.Status, error) {
	c.record("update:" + text)
	return remote.Status{ID: "1", Text: text}, nil
}

func (c *recordingConnector) DestroyStatus(_ context.Context, id string) error {
	c.record("destroy:" + id)
	return nil
}

func (c *recordingConnector) Favorite(_ context.Context, id string, create bool) (remote.Status, error) {
	c.record("favorite:" + id)
	return remote.Status{ID: id, Favorited: create}, nil
}

func (c *recordingConnector) Retweet(_ context.Context, id string) (remote.Status, error) {
	c.record("retweet:" + id)
	return remote.Status{ID: id}, nil
}

func (c *recordingConnector) RateLimitStatus(context.Context) (remote.RateLimit, error) {
	c.record("rate-limit")
	return remote.RateLimit{Remaining: 10, Limit: 150}, nil
}

// statusdDir returns a short directory so the socket path stays under the
// macOS limit.
func statusdDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "sd-d-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

type runningDaemon struct {
	d      *Daemon
	dir    string
	conn   *recordingConnector
	client *uds.Client
	errCh  chan error
}

func startDaemon(t *testing.T, dir string, cfg model.Config) *runningDaemon {
	t.Helper()
	conn := &recordingConnector{}
	d, err := New(dir, cfg, WithLogger(zap.NewNop()), WithConnector(conn),
		WithSender(func(string, string, bool) error { return nil }))
	require.NoError(t, err)

	rd := &runningDaemon{d: d, dir: dir, conn: conn, errCh: make(chan error, 1)}
	go func() { rd.errCh <- d.Run() }()

	rd.client = uds.NewClient(filepath.Join(dir, uds.DefaultSocketName))
	rd.client.SetTimeout(2 * time.Second)
	require.Eventually(t, func() bool {
		return rd.client.Call(uds.CommandPing, nil, nil) == nil
	}, 5*time.Second, 20*time.Millisecond, "daemon did not become ready")

	t.Cleanup(func() {
		d.Shutdown()
		<-d.Done()
	})
	return rd
}

func (rd *runningDaemon) stop(t *testing.T) {
	t.Helper()
	require.NoError(t, rd.client.Call(uds.CommandShutdown, nil, nil))
	select {
	case err := <-rd.errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_SubmitExecutesCommand(t *testing.T) {
	rd := startDaemon(t, statusdDir(t), model.Config{})

	var res uds.SubmitResult
	require.NoError(t, rd.client.Call(uds.CommandSubmit, uds.SubmitParams{
		Kind:   "update-status",
		Params: map[string]any{model.ParamStatus: "  hello  "},
	}, &res))
	assert.True(t, res.Accepted)
	assert.Contains(t, res.Command, "update-status")

	require.Eventually(t, func() bool {
		calls := rd.conn.Calls()
		return len(calls) == 1 && calls[0] == "update:hello"
	}, 5*time.Second, 10*time.Millisecond)

	var st uds.StatusResult
	require.NoError(t, rd.client.Call(uds.CommandStatus, nil, &st))
	assert.True(t, st.Restored)
	assert.True(t, st.Online)
	assert.Equal(t, os.Getpid(), st.PID)

	rd.stop(t)
}

func TestDaemon_SubmitRejectsUnknownKind(t *testing.T) {
	rd := startDaemon(t, statusdDir(t), model.Config{})

	err := rd.client.Call(uds.CommandSubmit, uds.SubmitParams{Kind: "launch-rockets"}, nil)
	var detail *uds.ErrorDetail
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, uds.ErrCodeValidation, detail.Code)
	rd.stop(t)
}

func TestDaemon_SecondInstanceRejected(t *testing.T) {
	dir := statusdDir(t)
	startDaemon(t, dir, model.Config{})

	second, err := New(dir, model.Config{}, WithLogger(zap.NewNop()), WithConnector(&recordingConnector{}))
	require.NoError(t, err)
	err = second.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon lock")

	// The first daemon's socket is untouched.
	client := uds.NewClient(filepath.Join(dir, uds.DefaultSocketName))
	assert.NoError(t, client.Call(uds.CommandPing, nil, nil))
}

func TestDaemon_OfflineQueueSurvivesRestart(t *testing.T) {
	dir := statusdDir(t)
	// Nothing listens on port 1, so the probe reports offline.
	offline := model.Config{Remote: model.RemoteConfig{ProbeAddr: "127.0.0.1:1", ProbeTTLSec: 1}}
	rd := startDaemon(t, dir, offline)

	require.NoError(t, rd.client.Call(uds.CommandSubmit, uds.SubmitParams{Kind: "retweet", ItemID: 42}, nil))
	var st uds.StatusResult
	require.NoError(t, rd.client.Call(uds.CommandStatus, nil, &st))
	assert.False(t, st.Online)
	assert.Equal(t, 1, st.Main)
	assert.Empty(t, rd.conn.Calls())

	rd.stop(t)
	_, err := os.Stat(filepath.Join(dir, "queue", "statusd_main.yaml"))
	require.NoError(t, err, "main queue should be persisted on shutdown")

	again := startDaemon(t, dir, model.Config{})
	require.Eventually(t, func() bool {
		calls := again.conn.Calls()
		return len(calls) == 1 && calls[0] == "retweet:42"
	}, 5*time.Second, 10*time.Millisecond)
	again.stop(t)
}

func TestDaemon_PreferenceCommandArmsAlarm(t *testing.T) {
	rd := startDaemon(t, statusdDir(t), model.Config{})

	require.NoError(t, rd.client.Call(uds.CommandSubmit, uds.SubmitParams{
		Kind: "put-boolean-preference",
		Params: map[string]any{
			model.ParamPreferenceKey:   "automatic_updates",
			model.ParamPreferenceValue: true,
		},
	}, nil))
	require.NoError(t, rd.client.Call(uds.CommandKick, nil, nil))

	var st uds.StatusResult
	require.NoError(t, rd.client.Call(uds.CommandStatus, nil, &st))
	assert.Contains(t, st.Alarm, "every 3m0s")

	data, err := os.ReadFile(filepath.Join(rd.dir, "preferences.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "automatic_updates: true")
	rd.stop(t)
}

func TestDaemon_ExitWhenIdle(t *testing.T) {
	cfg := model.Config{Daemon: model.DaemonConfig{ExitWhenIdle: true}}
	rd := startDaemon(t, statusdDir(t), cfg)

	require.NoError(t, rd.client.Call(uds.CommandSubmit, uds.SubmitParams{Kind: "create-favorite", ItemID: 5}, nil))

	select {
	case err := <-rd.errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not exit when idle")
	}
	assert.Equal(t, []string{"favorite:5"}, rd.conn.Calls())
}

func TestDaemon_MetricsAndListeners(t *testing.T) {
	cfg := model.Config{
		Daemon:    model.DaemonConfig{HTTPAddr: "127.0.0.1:0"},
		Metrics:   model.MetricsConfig{Enabled: true},
		Listeners: model.ListenersConfig{Feed: true, Journal: true},
	}
	rd := startDaemon(t, statusdDir(t), cfg)
	require.NotEmpty(t, rd.d.httpAddr)

	resp, err := http.Get("http://" + rd.d.httpAddr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "statusd_queue_depth")

	var ls uds.ListenersResult
	require.NoError(t, rd.client.Call(uds.CommandListeners, nil, &ls))
	assert.Equal(t, []string{"journal"}, ls.IDs)

	require.NoError(t, rd.client.Call(uds.CommandSubmit, uds.SubmitParams{Kind: "rate-limit-status"}, nil))
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(rd.dir, "logs", "events.jsonl"))
		return err == nil && strings.Contains(string(data), `"type":"rate_limit"`)
	}, 5*time.Second, 10*time.Millisecond)
	rd.stop(t)
}

func TestProbeAddr(t *testing.T) {
	tests := []struct {
		name string
		cfg  model.RemoteConfig
		want string
	}{
		{"explicit", model.RemoteConfig{ProbeAddr: "10.0.0.1:22", BaseURL: "https://api.example.com"}, "10.0.0.1:22"},
		{"https default port", model.RemoteConfig{BaseURL: "https://api.example.com/1"}, "api.example.com:443"},
		{"http default port", model.RemoteConfig{BaseURL: "http://api.example.com"}, "api.example.com:80"},
		{"explicit port", model.RemoteConfig{BaseURL: "http://localhost:8080"}, "localhost:8080"},
		{"no base url", model.RemoteConfig{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, probeAddr(tt.cfg))
		})
	}
}
