// Package daemon hosts the dispatch engine: it owns the single-instance
// lock, the control socket, the preference watcher, the metrics and feed
// HTTP server and the graceful shutdown sequence.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/msageha/statusd/internal/alarm"
	"github.com/msageha/statusd/internal/engine"
	"github.com/msageha/statusd/internal/events"
	"github.com/msageha/statusd/internal/feed"
	"github.com/msageha/statusd/internal/lock"
	"github.com/msageha/statusd/internal/logging"
	"github.com/msageha/statusd/internal/metrics"
	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/notify"
	"github.com/msageha/statusd/internal/prefs"
	"github.com/msageha/statusd/internal/remote"
	"github.com/msageha/statusd/internal/store"
	"github.com/msageha/statusd/internal/store/filestore"
	"github.com/msageha/statusd/internal/store/redisstore"
	"github.com/msageha/statusd/internal/uds"
)

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger replaces the configured log output.
func WithLogger(l *zap.Logger) Option {
	return func(d *Daemon) { d.zlog = l }
}

// WithConnector replaces the HTTP connector built from remote config.
func WithConnector(c remote.Connector) Option {
	return func(d *Daemon) { d.connector = c }
}

// WithSender replaces the desktop notification sender.
func WithSender(s notify.SenderFunc) Option {
	return func(d *Daemon) { d.sender = s }
}

// Daemon is the statusd background process.
type Daemon struct {
	dir    string
	config model.Config
	zlog   *zap.Logger
	logger *zap.SugaredLogger

	connector remote.Connector
	sender    notify.SenderFunc

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	httpSrv  *http.Server
	httpAddr string

	prefs    *prefs.Store
	alarm    *alarm.Alarm
	prober   *remote.Prober
	registry *events.Registry
	hub      *feed.Hub
	journal  *events.Journal
	redis    *redis.Client
	engine   *engine.Engine

	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	shutdown sync.Once
	stopped  chan struct{}
}

// New prepares a daemon rooted at dir (the .statusd directory). Nothing is
// started until Run.
func New(dir string, cfg model.Config, opts ...Option) (*Daemon, error) {
	cfg.ApplyDefaults()
	d := &Daemon{
		dir:      dir,
		config:   cfg,
		fileLock: lock.NewFileLock(filepath.Join(dir, "locks", "daemon.lock")),
		stopped:  make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.zlog == nil {
		l, _, err := logging.New(cfg.Logging, dir)
		if err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
		d.zlog = l
	}
	d.logger = d.zlog.Sugar().Named("daemon")
	d.server = uds.NewServer(filepath.Join(dir, uds.DefaultSocketName),
		uds.WithServerLogger(d.zlog.Sugar().Named("uds")))
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Run starts every component and blocks until shutdown completes, either
// from a signal, a shutdown request or the idle hook.
func (d *Daemon) Run() error {
	if err := os.MkdirAll(filepath.Join(d.dir, "locks"), 0755); err != nil {
		return fmt.Errorf("ensure locks dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock (another daemon may be running): %w", err)
	}
	d.logger.Infof("daemon_starting pid=%d dir=%s", os.Getpid(), d.dir)

	if err := d.build(); err != nil {
		d.Shutdown()
		return err
	}

	var gctx context.Context
	d.group, gctx = errgroup.WithContext(d.ctx)
	if err := d.startWatcher(gctx); err != nil {
		d.Shutdown()
		return err
	}
	if err := d.startHTTP(); err != nil {
		d.Shutdown()
		return err
	}
	d.group.Go(func() error { return d.connectivityLoop(gctx) })

	// Examines preferences (arming the alarm), restores persisted queues
	// and starts the executor on leftovers.
	if err := d.engine.Submit(d.ctx, model.NewCommand(model.KindPreferencesChanged, 0, nil)); err != nil {
		d.logger.Warnf("initial_submit_failed error=%v", err)
	}

	// The control socket goes up last; a successful ping means ready.
	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.Shutdown()
		return fmt.Errorf("start control socket: %w", err)
	}
	d.logger.Infof("daemon_ready socket=%s", filepath.Join(d.dir, uds.DefaultSocketName))

	d.waitSignals()
	return nil
}

// build wires the engine and its collaborators from config.
func (d *Daemon) build() error {
	cfg := d.config
	named := func(n string) *zap.SugaredLogger { return d.zlog.Sugar().Named(n) }

	p, err := prefs.Open(d.dir, prefs.WithLogger(named("prefs")))
	if err != nil {
		return err
	}
	d.prefs = p

	st, err := d.openStore()
	if err != nil {
		return err
	}

	if d.connector == nil {
		c, err := remote.NewHTTPConnector(cfg.Remote, remote.WithHTTPLogger(named("remote")))
		if err != nil {
			return fmt.Errorf("create connector: %w", err)
		}
		d.connector = c
	}
	d.prober = remote.NewProber(probeAddr(cfg.Remote),
		time.Duration(cfg.Remote.ProbeTTLSec)*time.Second, remote.WithProbeLogger(named("probe")))

	var resolver remote.Resolver = remote.IdentityResolver{}
	if cfg.Remote.IDTable != "" {
		path := cfg.Remote.IDTable
		if !filepath.IsAbs(path) {
			path = filepath.Join(d.dir, path)
		}
		r, err := remote.NewTableResolver(path)
		if err != nil {
			return fmt.Errorf("load id table: %w", err)
		}
		resolver = r
	}

	d.registry = events.NewRegistry(named("events"))
	if cfg.Listeners.Journal {
		j, err := events.NewJournal(filepath.Join(d.dir, "logs", events.JournalFileName), 0, 3)
		if err != nil {
			return err
		}
		j.EnableChecksum(cfg.Listeners.JournalChecksum)
		d.journal = j
		d.registry.Register("journal", j)
	}
	foreground := func() bool { return false }
	if cfg.Listeners.Feed {
		d.hub = feed.NewHub(d.registry, named("feed"))
		foreground = func() bool { return d.hub.Len() > 0 }
	}

	notifyOpts := []notify.Option{notify.WithLogger(named("notify"))}
	if d.sender != nil {
		notifyOpts = append(notifyOpts, notify.WithSender(d.sender))
	}
	notifier := notify.NewDesktop(d.prefs, cfg.Notifications.Desktop, notifyOpts...)

	d.alarm = alarm.New(d.fireAlarm, named("alarm"))

	var onIdle func()
	if cfg.Daemon.ExitWhenIdle {
		onIdle = func() {
			d.logger.Infof("idle_exit queues empty and no listeners connected")
			d.Shutdown()
		}
	}

	eng, err := engine.New(engine.Config{
		Capacity:       cfg.Queue.Capacity,
		RetryBudget:    cfg.Queue.RetryBudget,
		StoreName:      cfg.Store.Name,
		FetchFrequency: time.Duration(cfg.Alarm.DefaultIntervalSec) * time.Second,
	}, engine.Deps{
		Store:      st,
		Connector:  d.connector,
		Resolver:   resolver,
		Prefs:      d.prefs,
		Alarm:      d.alarm,
		Notifier:   notifier,
		Registry:   d.registry,
		WakeLock:   lock.NewFileLock(filepath.Join(d.dir, "locks", "executor.lock")),
		Online:     d.prober.Online,
		Foreground: foreground,
		OnIdle:     onIdle,
		Logger:     named("engine"),
	})
	if err != nil {
		return err
	}
	d.engine = eng
	return nil
}

func (d *Daemon) openStore() (store.Store, error) {
	logger := d.zlog.Sugar().Named("store")
	switch d.config.Store.Backend {
	case "redis":
		d.redis = redisstore.NewClient(d.config.Redis)
		st := redisstore.New(d.redis,
			redisstore.WithKeyPrefix(d.config.Redis.KeyPrefix), redisstore.WithLogger(logger))
		ctx, cancel := context.WithTimeout(d.ctx, time.Duration(d.config.Redis.TimeoutSec)*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", d.config.Redis.Addr, err)
		}
		return st, nil
	case "file":
		return filestore.New(d.dir, filestore.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", d.config.Store.Backend)
	}
}

func (d *Daemon) fireAlarm() {
	if err := d.engine.Submit(d.ctx, model.NewCommand(model.KindAutomaticUpdate, 0, nil)); err != nil {
		d.logger.Debugf("alarm_submit_skipped error=%v", err)
	}
}

// startWatcher watches the directory holding preferences.yaml. Atomic
// writes replace the file, so the directory is watched rather than the file.
func (d *Daemon) startWatcher(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(d.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", d.dir, err)
	}
	d.watcher = w
	d.group.Go(func() error {
		d.watchLoop(ctx)
		return nil
	})
	return nil
}

func (d *Daemon) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != prefs.FileName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			d.preferencesTouched(ctx)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Errorf("fsnotify_error error=%v", err)
		}
	}
}

// preferencesTouched reloads the preference file and kicks the engine if a
// value changed. The engine's own writes reload as unchanged.
func (d *Daemon) preferencesTouched(ctx context.Context) {
	changed, err := d.prefs.Reload()
	if err != nil {
		d.logger.Warnf("preferences_reload_failed error=%v", err)
		return
	}
	if !changed {
		return
	}
	d.logger.Infof("preferences_changed path=%s", d.prefs.Path())
	if err := d.engine.Kick(ctx); err != nil {
		d.logger.Debugf("kick_skipped error=%v", err)
	}
}

// connectivityLoop kicks the engine when the service becomes reachable
// again, so commands parked while offline are sent.
func (d *Daemon) connectivityLoop(ctx context.Context) error {
	interval := time.Duration(d.config.Remote.ProbeTTLSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	online := d.prober.Online(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.prober.Invalidate()
			now := d.prober.Online(ctx)
			if now && !online {
				d.logger.Infof("connectivity_restored")
				if err := d.engine.Kick(ctx); err != nil {
					d.logger.Debugf("kick_skipped error=%v", err)
				}
			}
			online = now
		}
	}
}

func (d *Daemon) startHTTP() error {
	addr := d.config.Daemon.HTTPAddr
	if addr == "" || (!d.config.Metrics.Enabled && d.hub == nil) {
		return nil
	}
	mux := http.NewServeMux()
	if d.config.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := metrics.Register(reg); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		mux.Handle(d.config.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	if d.hub != nil {
		mux.Handle(d.config.Listeners.FeedPath, d.hub)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	d.httpAddr = ln.Addr().String()
	d.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	d.group.Go(func() error {
		if err := d.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Errorf("http_server_failed addr=%s error=%v", d.httpAddr, err)
			return err
		}
		return nil
	})
	d.logger.Infof("http_listening addr=%s metrics=%t feed=%t", d.httpAddr, d.config.Metrics.Enabled, d.hub != nil)
	return nil
}

// waitSignals blocks until a signal arrives or shutdown completes by other
// means. A second signal forces exit.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Infof("signal_received signal=%s initiating graceful shutdown", sig)
		go func() {
			<-sigCh
			d.logger.Warnf("second_signal_received forcing exit")
			_ = d.zlog.Sync()
			os.Exit(1)
		}()
		d.Shutdown()
	case <-d.stopped:
	}
}

// Shutdown stops producers, closes the engine (persisting both queues) and
// releases the lock. It is idempotent and blocks until done.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		defer close(d.stopped)
		d.logger.Infof("shutdown_started")

		timeout := time.Duration(d.config.Daemon.ShutdownTimeoutSec) * time.Second
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		d.cancel()
		if err := d.server.Stop(); err != nil {
			d.logger.Warnf("control_socket_stop_failed error=%v", err)
		}
		if d.watcher != nil {
			_ = d.watcher.Close()
		}
		if d.httpSrv != nil {
			if err := d.httpSrv.Shutdown(ctx); err != nil {
				d.logger.Warnf("http_shutdown_failed error=%v", err)
			}
		}
		if d.alarm != nil {
			if err := d.alarm.Stop(ctx); err != nil {
				d.logger.Warnf("alarm_stop_failed error=%v", err)
			}
		}
		if d.engine != nil {
			if err := d.engine.Close(ctx); err != nil {
				d.logger.Errorf("engine_close_failed error=%v", err)
			}
		}
		if d.hub != nil {
			d.hub.Close()
		}
		if d.journal != nil {
			_ = d.journal.Close()
		}
		if d.redis != nil {
			_ = d.redis.Close()
		}
		if d.group != nil {
			if err := d.group.Wait(); err != nil {
				d.logger.Warnf("background_task_failed error=%v", err)
			}
		}
		if err := d.fileLock.Unlock(); err != nil {
			d.logger.Warnf("unlock_failed error=%v", err)
		}
		d.logger.Infof("daemon_stopped")
		_ = d.zlog.Sync()
	})
}

// Done is closed once shutdown has completed.
func (d *Daemon) Done() <-chan struct{} { return d.stopped }

// probeAddr is remote.probe_addr, or host:port of the base URL.
func probeAddr(cfg model.RemoteConfig) string {
	if cfg.ProbeAddr != "" {
		return cfg.ProbeAddr
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port)
}
