package worker

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"skillmodel/internal/config"
	"skillmodel/internal/observability"
	contextutils "skillmodel/internal/utils"

	"github.com/lib/pq"
)

const listenerPingInterval = 90 * time.Second

// Notifier delivers ids of sessions announced as completed. A zero id means the
// connection was re-established and announcements may have been missed.
type Notifier interface {
	Notifications() <-chan int
	Close() error
}

// PQNotifier adapts a pq.Listener on the session completion channel
type PQNotifier struct {
	listener *pq.Listener
	channel  string
	out      chan int
	done     chan struct{}
	once     sync.Once
	logger   *observability.Logger
}

// NewPQNotifier opens a LISTEN connection on channel
func NewPQNotifier(dsn, channel string, logger *observability.Logger) (*PQNotifier, error) {
	if channel == "" {
		channel = config.DefaultListenChannel
	}
	n := &PQNotifier{
		channel: channel,
		out:     make(chan int, 64),
		done:    make(chan struct{}),
		logger:  logger,
	}
	n.listener = pq.NewListener(dsn, config.ListenerMinReconnect, config.ListenerMaxReconnect, n.event)
	if err := n.listener.Listen(channel); err != nil {
		_ = n.listener.Close()
		return nil, contextutils.WrapErrorf(contextutils.ErrDatabaseConnection, "failed to listen on %s: %v", channel, err)
	}
	go n.forward()
	return n, nil
}

// Notifications returns the stream of announced session ids
func (n *PQNotifier) Notifications() <-chan int {
	return n.out
}

// Close stops listening. It is safe to call more than once.
func (n *PQNotifier) Close() error {
	var err error
	n.once.Do(func() {
		close(n.done)
		err = n.listener.Close()
	})
	return err
}

func (n *PQNotifier) event(ev pq.ListenerEventType, err error) {
	ctx := context.Background()
	fields := map[string]interface{}{"channel": n.channel}
	switch ev {
	case pq.ListenerEventConnected:
		n.logger.Info(ctx, "Session listener connected", fields)
	case pq.ListenerEventDisconnected:
		n.logger.Warn(ctx, "Session listener disconnected", mergeError(fields, err))
	case pq.ListenerEventReconnected:
		n.logger.Info(ctx, "Session listener reconnected", fields)
	case pq.ListenerEventConnectionAttemptFailed:
		n.logger.Warn(ctx, "Session listener connection attempt failed", mergeError(fields, err))
	}
}

func (n *PQNotifier) forward() {
	defer close(n.out)
	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
			go func() { _ = n.listener.Ping() }()
		case note, ok := <-n.listener.Notify:
			if !ok {
				return
			}
			id, valid := parseNotification(note)
			if !valid {
				n.logger.Warn(context.Background(), "Ignoring malformed session notification", map[string]interface{}{
					"channel": n.channel,
					"payload": note.Extra,
				})
				continue
			}
			select {
			case n.out <- id:
			case <-n.done:
				return
			}
		}
	}
}

// parseNotification maps a notification to a session id. pq sends nil after a
// reconnect, which maps to 0.
func parseNotification(note *pq.Notification) (int, bool) {
	if note == nil {
		return 0, true
	}
	id, err := strconv.Atoi(strings.TrimSpace(note.Extra))
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func mergeError(fields map[string]interface{}, err error) map[string]interface{} {
	if err != nil {
		fields["error"] = err.Error()
	}
	return fields
}
