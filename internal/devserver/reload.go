package devserver

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/elmpack/internal/telemetry"
)

// broadcaster fans rebuild notifications out to connected live reload clients
// as server-sent events.
type broadcaster struct {
	mu      sync.Mutex
	clients map[chan struct{}]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{clients: make(map[chan struct{}]struct{})}
}

func (b *broadcaster) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) unsubscribe(ch chan struct{}) {
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast notifies every client and returns how many were notified. A client
// with a pending notification is not sent a second one.
func (b *broadcaster) Broadcast() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.clients {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return len(b.clients)
}

func (b *broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)

	// streams outlive the server write timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("Write deadline not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	metrics := telemetry.GetMetrics()
	metrics.ReloadStreams.Add(ctx, 1)
	defer metrics.ReloadStreams.Add(ctx, -1)

	ch := b.subscribe()
	defer b.unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if _, err := fmt.Fprint(w, "event: change\ndata: {}\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			metrics.ReloadsBroadcastTotal.Add(ctx, 1)
		}
	}
}
