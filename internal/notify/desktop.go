// Package notify renders engine outcomes as desktop notifications.
package notify

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/msageha/statusd/internal/model"
	"github.com/msageha/statusd/internal/prefs"
)

const Title = "statusd"

// SenderFunc delivers one notification.
type SenderFunc func(title, message string, sound bool) error

// Preferences is the read side of the preference store.
type Preferences interface {
	Bool(scope, key string, def bool) bool
}

// Desktop gates notifications on the notification preferences and formats
// their text. Desktop notifications cannot be withdrawn, so the pending-queue
// indicator is only re-sent when the count changes.
type Desktop struct {
	prefs   Preferences
	send    SenderFunc
	enabled bool
	logger  *zap.SugaredLogger

	mu         sync.Mutex
	queueShown int
}

type Option func(*Desktop)

func WithSender(send SenderFunc) Option {
	return func(d *Desktop) { d.send = send }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Desktop) { d.logger = l }
}

// NewDesktop returns a notifier. With enabled false nothing is ever sent,
// regardless of preferences.
func NewDesktop(p Preferences, enabled bool, opts ...Option) *Desktop {
	d := &Desktop{prefs: p, send: Send, enabled: enabled, logger: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Desktop) notificationsOn() bool {
	return d.enabled && d.prefs.Bool("", prefs.KeyNotificationsEnabled, false)
}

// NewItems announces count new items on tl, if enabled for that timeline.
func (d *Desktop) NewItems(tl model.Timeline, count int) {
	if count <= 0 || !d.notificationsOn() {
		return
	}
	var key string
	switch tl {
	case model.TimelineMentions:
		key = prefs.KeyNotificationsMentions
	case model.TimelineDirect:
		key = prefs.KeyNotificationsMessages
	default:
		key = prefs.KeyNotificationsTimeline
	}
	if !d.prefs.Bool("", key, false) {
		return
	}
	sound := d.prefs.Bool("", prefs.KeyVibration, false)
	d.deliver(newItemsMessage(tl, count), sound)
}

// Queue shows the pending-command indicator for count commands, or clears
// it when clear is set or count is zero.
func (d *Desktop) Queue(count int, clear bool) {
	d.mu.Lock()
	if clear || count == 0 {
		d.queueShown = 0
		d.mu.Unlock()
		return
	}
	if !d.notificationsOn() || count == d.queueShown {
		d.mu.Unlock()
		return
	}
	d.queueShown = count
	d.mu.Unlock()
	d.deliver(QueueMessage(count), false)
}

func (d *Desktop) deliver(message string, sound bool) {
	if err := d.send(Title, message, sound); err != nil {
		d.logger.Warnf("notification_failed message=%q error=%v", message, err)
	}
}

func newItemsMessage(tl model.Timeline, count int) string {
	switch tl {
	case model.TimelineMentions:
		return Quantity(count, "new mention", "new mentions")
	case model.TimelineDirect:
		return Quantity(count, "new direct message", "new direct messages")
	default:
		return Quantity(count, "new tweet", "new tweets")
	}
}

func QueueMessage(count int) string {
	return Quantity(count, "command", "commands") + " waiting to be sent"
}

// Quantity formats n with the singular or plural noun.
func Quantity(n int, singular, plural string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", singular)
	}
	return fmt.Sprintf("%d %s", n, plural)
}
