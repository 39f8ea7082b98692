package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Channel is the postgres NOTIFY channel the shipments trigger writes to.
const Channel = "shipments_changed"

// Change is the payload of a shipments_changed notification
type Change struct {
	ShipmentID  string `json:"id"`
	OwnerUserID string `json:"owner_user_id"`
	Op          string `json:"op"`
}

// Feed fans shipment change notifications out to per-owner subscribers.
// Signals coalesce: a subscriber that has not caught up sees one pending
// signal, not a backlog.
type Feed struct {
	mu     sync.RWMutex
	subs   map[string]map[chan struct{}]struct{}
	logger *zap.Logger
}

func NewFeed(logger *zap.Logger) *Feed {
	return &Feed{
		subs:   make(map[string]map[chan struct{}]struct{}),
		logger: logger,
	}
}

// NewListener opens a pq listener on Channel. Reconnects are handled by pq
// and surface on Notify as nil notifications.
func NewListener(dsn string, logger *zap.Logger) (*pq.Listener, error) {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("Shipment listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(Channel); err != nil {
		listener.Close()
		return nil, err
	}
	return listener, nil
}

// Subscribe registers interest in one owner's shipments. The returned
// cancel func must be called to release the subscription.
func (f *Feed) Subscribe(ownerUserID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	f.mu.Lock()
	if f.subs[ownerUserID] == nil {
		f.subs[ownerUserID] = make(map[chan struct{}]struct{})
	}
	f.subs[ownerUserID][ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs[ownerUserID], ch)
			if len(f.subs[ownerUserID]) == 0 {
				delete(f.subs, ownerUserID)
			}
		})
	}
}

// Run dispatches notifications until ctx is done or notifications closes.
// A nil notification means the connection was re-established and changes
// may have been missed, so every subscriber is signalled.
func (f *Feed) Run(ctx context.Context, notifications <-chan *pq.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			if n == nil {
				f.logger.Info("Shipment listener reconnected, resyncing subscribers")
				f.signalAll()
				continue
			}
			var change Change
			if err := json.Unmarshal([]byte(n.Extra), &change); err != nil {
				f.logger.Warn("Malformed shipment notification", zap.String("payload", n.Extra), zap.Error(err))
				continue
			}
			f.Notify(change)
		}
	}
}

// Notify signals the subscribers of change's owner
func (f *Feed) Notify(change Change) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.subs[change.OwnerUserID] {
		signal(ch)
	}
}

func (f *Feed) signalAll() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, owners := range f.subs {
		for ch := range owners {
			signal(ch)
		}
	}
}

func (f *Feed) subscribers(ownerUserID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[ownerUserID])
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
