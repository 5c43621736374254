package stream

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/iomekam/dapp-inter/internal/logging"
	"github.com/iomekam/dapp-inter/internal/vstorage"
	"github.com/iomekam/dapp-inter/internal/watcher"
)

// Source is the part of a watcher the relay reads from.
type Source interface {
	Events() (<-chan watcher.Event, func())
	Stats() watcher.Stats
}

// EventsHandler relays watcher events to websocket clients. A client may
// send {"subscribe":["published.x","children:published"]} at any time to
// narrow the stream; an empty list restores every path.
type EventsHandler struct {
	Source         Source
	Logger         *logging.Logger
	AllowedOrigins []string
	// EventsPerSecond caps events written per connection. Zero is unlimited.
	EventsPerSecond float64
	Tracer          trace.Tracer
}

type subscribeMessage struct {
	Subscribe []string `json:"subscribe"`
}

type subscribedPayload struct {
	Type  string   `json:"type"`
	Paths []string `json:"paths"`
}

type eventPayload struct {
	Type        string    `json:"type"`
	Kind        string    `json:"kind"`
	Path        string    `json:"path"`
	Value       any       `json:"value,omitempty"`
	BlockHeight int64     `json:"blockHeight,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func newEventPayload(evt watcher.Event) eventPayload {
	payload := eventPayload{
		Type:      evt.Type,
		Kind:      evt.Path.Kind.String(),
		Path:      evt.Path.Name,
		Error:     evt.Error,
		Timestamp: evt.Timestamp,
	}
	if evt.Type == watcher.EventTypePathUpdated {
		payload.Value = evt.Value.Data
		payload.BlockHeight = evt.Value.BlockHeight
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	return payload
}

// pathFilter matches events by path name, or by kind and name for entries
// written as "kind:name". An empty filter matches everything.
type pathFilter struct {
	mutex sync.RWMutex
	names map[string]struct{}
	paths map[vstorage.Path]struct{}
}

func (filter *pathFilter) Allows(path vstorage.Path) bool {
	filter.mutex.RLock()
	defer filter.mutex.RUnlock()
	if len(filter.names) == 0 && len(filter.paths) == 0 {
		return true
	}
	if _, ok := filter.names[path.Name]; ok {
		return true
	}
	_, ok := filter.paths[path]
	return ok
}

// Set replaces the filter and returns the entries it accepted.
func (filter *pathFilter) Set(entries []string) []string {
	names := make(map[string]struct{})
	paths := make(map[vstorage.Path]struct{})
	accepted := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, ":") {
			path, err := vstorage.ParsePath(entry)
			if err != nil {
				continue
			}
			paths[path] = struct{}{}
		} else {
			names[entry] = struct{}{}
		}
		accepted = append(accepted, entry)
	}
	filter.mutex.Lock()
	filter.names = names
	filter.paths = paths
	filter.mutex.Unlock()
	return accepted
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := startWebSocketSpan(h.Tracer, r, "/ws")
	defer span.End()
	r = r.WithContext(ctx)

	conn, err := upgradeWebSocket(w, r, h.AllowedOrigins)
	if err != nil {
		logWSError(h.Logger, r, wsError{
			Status:  http.StatusBadRequest,
			Message: "websocket upgrade failed",
			Err:     err,
		})
		return
	}
	defer conn.Close()

	if h.Source == nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusServiceUnavailable,
			Message:      "watcher unavailable",
			SendEnvelope: true,
		})
		return
	}

	events, cancel := h.Source.Events()
	defer cancel()

	filter := &pathFilter{}
	var limiter *rate.Limiter
	if h.EventsPerSecond > 0 {
		burst := int(h.EventsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(h.EventsPerSecond), burst)
	}

	writer, err := startWSWriteLoop(wsStreamConfig[watcher.Event]{
		Conn:   conn,
		Output: events,
		BuildPayload: func(evt watcher.Event) (any, bool) {
			if !filter.Allows(evt.Path) {
				return nil, false
			}
			if limiter != nil && !limiter.Allow() {
				return nil, false
			}
			return newEventPayload(evt), true
		},
	})
	if err != nil {
		writeWSError(w, r, conn, h.Logger, wsError{
			Status:       http.StatusInternalServerError,
			Message:      "event stream unavailable",
			Err:          err,
			SendEnvelope: true,
		})
		return
	}
	defer writer.Stop()

	if h.Logger != nil {
		h.Logger.Debug("event stream opened", map[string]string{"remote_addr": r.RemoteAddr})
	}

	reads := make(chan []byte)
	go func() {
		defer close(reads)
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			select {
			case reads <- msg:
			case <-writer.Done():
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-reads:
			if !ok {
				return
			}
			var payload subscribeMessage
			if err := json.Unmarshal(msg, &payload); err != nil {
				continue
			}
			accepted := filter.Set(payload.Subscribe)
			if err := writer.Send(subscribedPayload{Type: "subscribed", Paths: accepted}); err != nil {
				return
			}
		case <-writer.Done():
			// the watcher closed its stream or the client stopped reading
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
				time.Now().Add(wsWriteTimeout))
			return
		}
	}
}
