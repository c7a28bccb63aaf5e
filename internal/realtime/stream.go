package realtime

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"visualbatch/internal/infra"
)

const (
	defaultKeepAlive = 30 * time.Second
	streamBuffer     = 32
)

// Streams is the per-generation callback registry behind the SSE endpoint.
type Streams struct {
	mu        sync.RWMutex
	logger    infra.Logger
	subs      map[string]map[*Subscription]struct{}
	keepAlive time.Duration
}

// Subscription receives the events of one generation until Close is called.
type Subscription struct {
	ID           string
	GenerationID string
	C            chan Event
	once         sync.Once
	streams      *Streams
}

// Close deregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.streams.remove(s) })
}

func NewStreams(logger infra.Logger) *Streams {
	return &Streams{
		logger:    infra.Component(logger, "streams"),
		subs:      make(map[string]map[*Subscription]struct{}),
		keepAlive: defaultKeepAlive,
	}
}

// SetKeepAlive changes the comment interval used to keep idle connections open.
func (s *Streams) SetKeepAlive(d time.Duration) {
	if d > 0 {
		s.keepAlive = d
	}
}

func (s *Streams) Subscribe(generationID string) *Subscription {
	sub := &Subscription{
		ID:           uuid.NewString(),
		GenerationID: generationID,
		C:            make(chan Event, streamBuffer),
		streams:      s,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subs[generationID]
	if !ok {
		set = make(map[*Subscription]struct{})
		s.subs[generationID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (s *Streams) remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.subs[sub.GenerationID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(s.subs, sub.GenerationID)
		}
	}
}

// Subscribers reports how many streams are open for a generation.
func (s *Streams) Subscribers(generationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[generationID])
}

// Publish hands ev to every subscriber of its generation, dropping it for
// subscribers whose buffer is full.
func (s *Streams) Publish(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for sub := range s.subs[ev.GenerationID] {
		select {
		case sub.C <- ev:
		default:
			s.logger.Warn().
				Str("generation_id", ev.GenerationID).
				Str("subscription_id", sub.ID).
				Str("event", string(ev.Type)).
				Msg("dropping stream event; buffer full")
		}
	}
}

// ServeStream writes the generation's events as server-sent events until the
// client disconnects.
func (s *Streams) ServeStream(w http.ResponseWriter, r *http.Request, generationID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.Subscribe(generationID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev := <-sub.C:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
