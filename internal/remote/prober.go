package remote

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DialFunc opens a connection; it matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Prober answers "is the host online" by dialing a TCP address. Results
// are cached for a TTL and concurrent probes share a single dial.
type Prober struct {
	addr    string
	ttl     time.Duration
	timeout time.Duration
	dial    DialFunc
	now     func() time.Time
	logger  *zap.SugaredLogger

	group singleflight.Group

	mu       sync.Mutex
	online   bool
	checked  time.Time
	hasValue bool
}

type ProberOption func(*Prober)

func WithDialer(d DialFunc) ProberOption {
	return func(p *Prober) { p.dial = d }
}

func WithProbeLogger(l *zap.SugaredLogger) ProberOption {
	return func(p *Prober) { p.logger = l }
}

func NewProber(addr string, ttl time.Duration, opts ...ProberOption) *Prober {
	d := &net.Dialer{}
	p := &Prober{
		addr:    addr,
		ttl:     ttl,
		timeout: 3 * time.Second,
		dial:    d.DialContext,
		now:     time.Now,
		logger:  zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Online reports reachability. An empty probe address means always online.
func (p *Prober) Online(ctx context.Context) bool {
	if p.addr == "" {
		return true
	}
	p.mu.Lock()
	if p.hasValue && p.now().Sub(p.checked) < p.ttl {
		online := p.online
		p.mu.Unlock()
		return online
	}
	p.mu.Unlock()

	v, _, _ := p.group.Do(p.addr, func() (any, error) {
		dctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		conn, err := p.dial(dctx, "tcp", p.addr)
		online := err == nil
		if err != nil {
			p.logger.Debugf("probe_failed addr=%s error=%v", p.addr, err)
		} else {
			_ = conn.Close()
		}
		p.mu.Lock()
		if p.hasValue && p.online != online {
			p.logger.Infof("connectivity_changed addr=%s online=%t", p.addr, online)
		}
		p.online, p.checked, p.hasValue = online, p.now(), true
		p.mu.Unlock()
		return online, nil
	})
	return v.(bool)
}

// Invalidate drops the cached answer so the next call dials again.
func (p *Prober) Invalidate() {
	p.mu.Lock()
	p.hasValue = false
	p.mu.Unlock()
}
