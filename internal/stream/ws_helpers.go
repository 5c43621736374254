package stream

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iomekam/dapp-inter/internal/logging"
)

const wsReadBufferSize = 1024
const wsWriteBufferSize = 1024
const wsWriteTimeout = 10 * time.Second

type wsStreamConfig[T any] struct {
	Conn         *websocket.Conn
	Output       <-chan T
	BuildPayload func(T) (any, bool)
	WriteTimeout time.Duration
}

type wsError struct {
	Status       int
	CloseCode    int
	Message      string
	Err          error
	SendEnvelope bool
}

type wsErrorPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	CloseCode int    `json:"close_code,omitempty"`
}

var errWSNilOutput = errors.New("websocket output channel is nil")

// wsWriteLoop owns all writes to its connection once started. Other writers
// go through Send.
type wsWriteLoop struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	timeout  time.Duration
	stopOnce sync.Once
	done     chan struct{}
	finished chan struct{}
}

func (loop *wsWriteLoop) Stop() {
	if loop == nil {
		return
	}
	loop.stopOnce.Do(func() {
		close(loop.done)
	})
}

// Done is closed when the loop exits, either after Stop, when the output
// channel closes or on a write error.
func (loop *wsWriteLoop) Done() <-chan struct{} {
	return loop.finished
}

func (loop *wsWriteLoop) Send(payload any) error {
	loop.writeMu.Lock()
	defer loop.writeMu.Unlock()
	if err := loop.conn.SetWriteDeadline(time.Now().Add(loop.timeout)); err != nil {
		return err
	}
	return loop.conn.WriteJSON(payload)
}

func upgradeWebSocket(w http.ResponseWriter, r *http.Request, allowedOrigins []string) (*websocket.Conn, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r, allowedOrigins)
		},
	}
	return upgrader.Upgrade(w, r, nil)
}

func startWSWriteLoop[T any](config wsStreamConfig[T]) (*wsWriteLoop, error) {
	if config.Output == nil {
		return nil, errWSNilOutput
	}
	if config.Conn == nil {
		return nil, errors.New("websocket connection is nil")
	}

	writeTimeout := config.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = wsWriteTimeout
	}

	buildPayload := config.BuildPayload
	if buildPayload == nil {
		buildPayload = func(value T) (any, bool) {
			return value, true
		}
	}

	loop := &wsWriteLoop{
		conn:     config.Conn,
		timeout:  writeTimeout,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	go func() {
		defer close(loop.finished)
		for {
			select {
			case event, ok := <-config.Output:
				if !ok {
					return
				}
				payload, ok := buildPayload(event)
				if !ok {
					continue
				}
				if err := loop.Send(payload); err != nil {
					return
				}
			case <-loop.done:
				return
			}
		}
	}()

	return loop, nil
}

// writeWSError sends a close frame when a websocket is available, falling back to HTTP errors otherwise.
func writeWSError(w http.ResponseWriter, r *http.Request, conn *websocket.Conn, logger *logging.Logger, wsErr wsError) {
	status := wsErr.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	reason := strings.TrimSpace(wsErr.Message)
	if reason == "" {
		reason = http.StatusText(status)
		if reason == "" {
			reason = "websocket error"
		}
	}
	closeCode := wsErr.CloseCode
	if closeCode == 0 {
		closeCode = closeCodeForStatus(status)
	}

	logWSError(logger, r, wsError{
		Status:    status,
		CloseCode: closeCode,
		Message:   reason,
		Err:       wsErr.Err,
	})

	if conn == nil {
		http.Error(w, reason, status)
		return
	}

	deadline := time.Now().Add(wsWriteTimeout)
	if wsErr.SendEnvelope {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteJSON(wsErrorPayload{
			Type:      "error",
			Message:   reason,
			Status:    status,
			CloseCode: closeCode,
		})
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, truncateCloseReason(reason)), deadline)
	_ = conn.Close()
}

func logWSError(logger *logging.Logger, r *http.Request, wsErr wsError) {
	if logger == nil || r == nil {
		return
	}

	closeCode := wsErr.CloseCode
	if closeCode == 0 {
		closeCode = closeCodeForStatus(wsErr.Status)
	}

	fields := map[string]string{
		"path":       r.URL.Path,
		"status":     strconv.Itoa(wsErr.Status),
		"close_code": strconv.Itoa(closeCode),
		"message":    wsErr.Message,
	}
	if r.RemoteAddr != "" {
		fields["remote_addr"] = r.RemoteAddr
	}
	if userAgent := strings.TrimSpace(r.UserAgent()); userAgent != "" {
		fields["user_agent"] = userAgent
	}
	if wsErr.Err != nil {
		fields["error"] = wsErr.Err.Error()
	}

	if wsErr.Status >= http.StatusInternalServerError {
		logger.Error("websocket error", fields)
	} else {
		logger.Warn("websocket error", fields)
	}
}

func closeCodeForStatus(status int) int {
	switch {
	case status == http.StatusBadRequest:
		return websocket.CloseProtocolError
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return websocket.ClosePolicyViolation
	case status == http.StatusServiceUnavailable:
		return websocket.CloseTryAgainLater
	case status >= http.StatusBadRequest && status < http.StatusInternalServerError:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

func truncateCloseReason(reason string) string {
	const maxReasonBytes = 123
	if len(reason) <= maxReasonBytes {
		return reason
	}
	return reason[:maxReasonBytes]
}

// isOriginAllowed accepts requests without an Origin header, origins listed
// in allowed ("*" matches any) and, when allowed is empty, same-host origins.
func isOriginAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := parsed.Hostname()
	if originHost == "" {
		return false
	}

	if len(allowed) > 0 {
		for _, allowedOrigin := range allowed {
			if allowedOrigin == "*" || strings.EqualFold(origin, allowedOrigin) || strings.EqualFold(originHost, allowedOrigin) {
				return true
			}
		}
		return false
	}

	return strings.EqualFold(originHost, hostOnly(r.Host))
}

func hostOnly(hostport string) string {
	if parsedHost, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.Trim(parsedHost, "[]")
	}
	return strings.Trim(hostport, "[]")
}
