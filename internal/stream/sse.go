package stream

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// heartbeatInterval is how often an SSE comment is framed to keep idle
// proxies from closing the connection.
const heartbeatInterval = 15 * time.Second

// SSEWriter frames events over a long-lived HTTP response. Writes after
// client disconnect become no-ops so the orchestration can run to
// completion and still persist its session.
type SSEWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *slog.Logger

	clientGone bool
	done       chan struct{}
	closeOnce  sync.Once
}

// NewSSEWriter prepares the response for event streaming and starts the
// heartbeat. Returns false when the ResponseWriter cannot flush.
func NewSSEWriter(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*SSEWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	if logger == nil {
		logger = slog.Default()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sw := &SSEWriter{
		w:       w,
		flusher: flusher,
		logger:  logger.With("component", "sse"),
		done:    make(chan struct{}),
	}

	go sw.heartbeat()
	go sw.watchClient(r)

	return sw, true
}

// Send frames one event. Errors mark the client gone; they are not
// surfaced because the caller must finish the orchestration regardless.
func (s *SSEWriter) Send(e Event) {
	frame, err := Render(e)
	if err != nil {
		s.logger.Error("event encoding failed", "type", e.Type, "error", err)
		return
	}
	s.write(frame)
}

// ClientGone reports whether the client has disconnected.
func (s *SSEWriter) ClientGone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientGone
}

// Close stops the heartbeat. Safe to call more than once.
func (s *SSEWriter) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *SSEWriter) write(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientGone {
		return
	}
	if _, err := s.w.Write(frame); err != nil {
		s.clientGone = true
		return
	}
	s.flusher.Flush()
}

func (s *SSEWriter) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.write([]byte(":ping\n\n"))
		}
	}
}

func (s *SSEWriter) watchClient(r *http.Request) {
	select {
	case <-r.Context().Done():
		s.mu.Lock()
		s.clientGone = true
		s.mu.Unlock()
	case <-s.done:
	}
}
