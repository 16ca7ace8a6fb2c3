// Package feed streams engine events to websocket clients. Every connected
// client is a listener in the engine's registry.
package feed

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/msageha/statusd/internal/events"
	"github.com/msageha/statusd/internal/metrics"
	"github.com/msageha/statusd/internal/model"
)

const (
	outboundBuffer      = 64
	defaultWriteTimeout = 5 * time.Second
)

var (
	errBackpressure = errors.New("feed client outbound queue full")
	errClientGone   = errors.New("feed client disconnected")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	id   string
	ws   *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) HandleEvent(ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errClientGone
	case c.out <- data:
		return nil
	default:
		return errBackpressure
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Hub accepts websocket connections and registers them as listeners.
type Hub struct {
	registry     *events.Registry
	logger       *zap.SugaredLogger
	writeTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

func NewHub(reg *events.Registry, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		registry:     reg,
		logger:       logger,
		writeTimeout: defaultWriteTimeout,
		clients:      make(map[string]*client),
	}
}

// Len is the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugf("feed_upgrade_failed remote=%s error=%v", r.RemoteAddr, err)
		return
	}
	id, err := model.GenerateID(model.IDTypeListener)
	if err != nil {
		_ = ws.Close()
		return
	}
	c := &client{id: id, ws: ws, out: make(chan []byte, outboundBuffer), done: make(chan struct{})}

	h.mu.Lock()
	h.clients[id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.registry.Register(id, c)
	metrics.Listeners.Set(float64(h.registry.Len()))
	h.logger.Infof("feed_client_connected id=%s remote=%s clients=%d", id, r.RemoteAddr, n)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop discards inbound frames and notices disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer h.remove(c)
	for {
		select {
		case <-c.done:
			return
		case b := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				h.logger.Debugf("feed_write_failed id=%s error=%v", c.id, err)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	if ok {
		h.registry.Unregister(c.id)
		metrics.Listeners.Set(float64(h.registry.Len()))
		h.logger.Infof("feed_client_disconnected id=%s", c.id)
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
		h.remove(c)
	}
}
