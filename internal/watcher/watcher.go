package watcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/iomekam/dapp-inter/internal/event"
	"github.com/iomekam/dapp-inter/internal/logging"
	"github.com/iomekam/dapp-inter/internal/metrics"
	"github.com/iomekam/dapp-inter/internal/rpc"
	"github.com/iomekam/dapp-inter/internal/vstorage"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	defaultInterval       = 2 * time.Second
	defaultCoalesceDelay  = 50 * time.Millisecond
	defaultRequestTimeout = 30 * time.Second
	defaultEventHistory   = 64
	tracerName            = "github.com/iomekam/dapp-inter/internal/watcher"
)

type poster interface {
	Post(ctx context.Context, body []byte, batchSize int) ([]byte, error)
}

// Watcher multiplexes path subscriptions onto batched polling rounds.
type Watcher struct {
	mutex    sync.Mutex
	registry *registry
	state    State
	timer    *time.Timer
	timerGen uint64
	closed   bool

	// roundMutex serializes rounds from the timer and from Refresh.
	roundMutex sync.Mutex

	client         poster
	endpoint       string
	namespace      string
	chainID        string
	unserialize    vstorage.Unserializer
	interval       time.Duration
	coalesceDelay  time.Duration
	requestTimeout time.Duration
	limiter        *rate.Limiter
	logger         *logging.Logger
	metrics        *metrics.Registry
	tracer         trace.Tracer
	bus            *event.Bus[Event]

	ctx    context.Context
	cancel context.CancelFunc

	rounds    uint64
	lastRound time.Time
	lastError string
}

// New creates a Watcher. Nothing is polled until the first Watch.
func New(options Options) (*Watcher, error) {
	tracer := options.Tracer
	if tracer == nil {
		tracer = otelapi.Tracer(tracerName)
	}
	client, err := rpc.NewClient(rpc.Options{
		Endpoint:         options.RPCAddr,
		HTTPClient:       options.HTTPClient,
		MaxResponseBytes: options.MaxResponseBytes,
		Tracer:           tracer,
	})
	if err != nil {
		return nil, err
	}
	watcher := newWatcher(client, tracer, options)
	watcher.endpoint = client.Endpoint()
	return watcher, nil
}

func newWatcher(client poster, tracer trace.Tracer, options Options) *Watcher {
	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	unserialize := options.Unserializer
	if unserialize == nil {
		unserialize = vstorage.JSONUnserializer
	}
	interval := options.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	coalesceDelay := options.CoalesceDelay
	if coalesceDelay <= 0 {
		coalesceDelay = defaultCoalesceDelay
	}
	requestTimeout := options.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	history := options.EventHistory
	if history <= 0 {
		history = defaultEventHistory
	}

	var limiter *rate.Limiter
	if options.MaxRoundsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(options.MaxRoundsPerSecond), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var fields map[string]string
	if options.ChainID != "" {
		fields = map[string]string{"chain_id": options.ChainID}
	}

	return &Watcher{
		registry:       newRegistry(),
		client:         client,
		namespace:      options.Namespace,
		chainID:        options.ChainID,
		unserialize:    unserialize,
		interval:       interval,
		coalesceDelay:  coalesceDelay,
		requestTimeout: requestTimeout,
		limiter:        limiter,
		logger:         logger.ForCategory(logging.CategoryWatcher).With(fields),
		metrics:        registry,
		tracer:         tracer,
		bus: event.NewBus[Event](ctx, event.BusOptions{
			Name:                 "watcher_events",
			SubscriberBufferSize: options.EventBufferSize,
			HistorySize:          history,
			Registry:             registry,
		}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Watch subscribes to path. onUpdate is called with the current value on
// the first successful round after the call and with every changed value
// after that. onError, when set, receives failure messages for the path;
// without it failures are dropped. A subscriber added to a path that already
// has a cached value receives it on the next successful round.
func (watcher *Watcher) Watch(path vstorage.Path, onUpdate UpdateFunc, onError ErrorFunc) (Unsubscribe, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if err := path.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if onUpdate == nil {
		return nil, errors.New("update callback is required")
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, ErrClosed
	}
	id, created := watcher.registry.add(path, onUpdate, onError)
	active := watcher.registry.pathCount()
	watcher.armLocked()
	watcher.mutex.Unlock()

	watcher.metrics.SetActivePaths(active)
	if created {
		watcher.logDebug("watch added", path, active)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			watcher.unsubscribe(path, id)
		})
	}, nil
}

func (watcher *Watcher) unsubscribe(path vstorage.Path, id uint64) {
	watcher.mutex.Lock()
	_, empty := watcher.registry.remove(path, id)
	active := watcher.registry.pathCount()
	if active == 0 {
		watcher.disarmLocked()
	}
	watcher.mutex.Unlock()

	watcher.metrics.SetActivePaths(active)
	if empty {
		watcher.logDebug("watch removed", path, active)
	}
}

// Events streams path_updated and path_error events. The returned cancel
// func releases the subscription.
func (watcher *Watcher) Events() (<-chan Event, func()) {
	return watcher.bus.Subscribe()
}

// RecentEvents returns up to count of the most recent events, oldest first.
func (watcher *Watcher) RecentEvents(count int) []Event {
	return watcher.bus.ReplayLast(count)
}

func (watcher *Watcher) ChainID() string {
	return watcher.chainID
}

func (watcher *Watcher) Stats() Stats {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	return Stats{
		ChainID:     watcher.chainID,
		ActivePaths: watcher.registry.pathCount(),
		Subscribers: watcher.registry.subscriberCount(),
		State:       watcher.state,
		Rounds:      watcher.rounds,
		LastRound:   watcher.lastRound,
		LastError:   watcher.lastError,
		BlockHeight: watcher.registry.maxBlockHeight(),
	}
}

// Close stops polling, drops every subscription and closes event streams.
// An in-flight round is cancelled and its results discarded.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}
	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	watcher.disarmLocked()
	watcher.state = StateIdle
	watcher.registry.reset()
	watcher.mutex.Unlock()

	watcher.cancel()
	watcher.bus.Close()
	watcher.metrics.SetActivePaths(0)
	return nil
}

func (watcher *Watcher) logDebug(message string, path vstorage.Path, activeCount int) {
	watcher.logger.Debug(message, map[string]string{
		"path":         path.String(),
		"active_paths": strconv.Itoa(activeCount),
	})
}
