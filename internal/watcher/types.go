package watcher

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/iomekam/dapp-inter/internal/logging"
	"github.com/iomekam/dapp-inter/internal/metrics"
	"github.com/iomekam/dapp-inter/internal/vstorage"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrClosed      = errors.New("watcher is closed")
	ErrInvalidPath = errors.New("invalid path")
)

// UpdateFunc receives a path's value when it changes.
type UpdateFunc func(vstorage.Value)

// ErrorFunc receives the failure message for a path.
type ErrorFunc func(message string)

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

const (
	EventTypePathUpdated = "path_updated"
	EventTypePathError   = "path_error"
)

// Event is published on the watcher's event stream once per path per round
// when the value changed or the query failed.
type Event struct {
	Type      string
	Path      vstorage.Path
	Value     vstorage.Value
	Error     string
	Timestamp time.Time
}

type Options struct {
	// RPCAddr is the node's JSON-RPC endpoint. Required.
	RPCAddr string
	// ChainID identifies the chain. It is not sent with queries.
	ChainID   string
	Namespace string
	// Unserializer decodes data history entries. Defaults to
	// vstorage.JSONUnserializer.
	Unserializer vstorage.Unserializer
	// Interval between the end of one round and the start of the next.
	Interval time.Duration
	// CoalesceDelay is how long the scheduler waits after the first watch on
	// an idle watcher before polling, so watches registered together share a
	// batch.
	CoalesceDelay  time.Duration
	RequestTimeout time.Duration
	// MaxRoundsPerSecond limits round frequency when positive.
	MaxRoundsPerSecond float64
	HTTPClient         *http.Client
	MaxResponseBytes   int64
	Logger             *logging.Logger
	Metrics            *metrics.Registry
	Tracer             trace.Tracer
	EventHistory       int
	EventBufferSize    int
}

type State int

const (
	StateIdle State = iota
	StateArmed
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

type Stats struct {
	ChainID     string    `json:"chainId,omitempty"`
	ActivePaths int       `json:"activePaths"`
	Subscribers int       `json:"subscribers"`
	State       State     `json:"state"`
	Rounds      uint64    `json:"rounds"`
	LastRound   time.Time `json:"lastRound,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	BlockHeight int64     `json:"blockHeight,omitempty"`
}
