package barterchat

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Connection State
// ============================================================================

// ConnectionState is the lifecycle state of the relay connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
)

// ============================================================================
// Configuration
// ============================================================================

// DefaultRelayPath is the relay endpoint appended to the base URL.
const DefaultRelayPath = "/ws/chat"

// RealtimeConfig configures a RealtimeClient.
type RealtimeConfig struct {
	Path             string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration // also bounds the wait for a heartbeat pong

	// HeartbeatInterval is the time between pings on an idle or busy
	// connection. Negative disables the heartbeat.
	HeartbeatInterval time.Duration

	// Frames larger than ReadLimit are drained and dropped; the connection
	// stays up. A frame larger than MaxFrameSize fails the connection.
	ReadLimit    int64
	MaxFrameSize int64

	ReconnectPolicy ReconnectPolicy
	HTTPClient      *http.Client
	Logger          Logger
	Now             func() time.Time
}

func (c *RealtimeConfig) defaults() {
	if c.Path == "" {
		c.Path = DefaultRelayPath
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 1 << 20
	}
	if c.MaxFrameSize < c.ReadLimit {
		c.MaxFrameSize = 16 * c.ReadLimit
	}
	if c.ReconnectPolicy == nil {
		c.ReconnectPolicy = NoReconnect{}
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	c.Logger = orNoop(c.Logger)
	if c.Now == nil {
		c.Now = time.Now
	}
}

// ============================================================================
// Reconnect Policy
// ============================================================================

// ReconnectPolicy decides whether a failed connection is retried.
type ReconnectPolicy interface {
	// Next is consulted each time the connection enters StateFailed. attempt
	// counts retries since the last successful handshake, starting at 0.
	Next(attempt int, cause error) (delay time.Duration, ok bool)
}

// NoReconnect never retries. Reconnection is left to the application.
type NoReconnect struct{}

// Next always declines.
func (NoReconnect) Next(int, error) (time.Duration, bool) { return 0, false }

// ExponentialBackoff retries with doubling delays plus jitter. Auth failures
// are never retried.
type ExponentialBackoff struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int     // 0 means unlimited
	Jitter      float64 // fraction of BaseDelay added at random
}

// DefaultBackoff returns the policy used by the mobile apps: 1s doubling up
// to 30s, at most 10 attempts.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 10,
		Jitter:      0.5,
	}
}

// Next returns the delay before retry number attempt+1.
func (b *ExponentialBackoff) Next(attempt int, cause error) (time.Duration, bool) {
	if IsAuthError(cause) {
		return 0, false
	}
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return 0, false
	}
	delay := float64(b.BaseDelay) * math.Pow(2, float64(attempt))
	if b.Jitter > 0 {
		delay += rand.Float64() * float64(b.BaseDelay) * b.Jitter
	}
	if b.MaxDelay > 0 {
		delay = math.Min(delay, float64(b.MaxDelay))
	}
	return time.Duration(delay), true
}

// ============================================================================
// Endpoint
// ============================================================================

// RelayURL derives the relay endpoint from the REST base URL: http becomes
// ws, https becomes wss, path is appended and the token is carried as the
// "token" query parameter.
func RelayURL(baseURL, path, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", newError(ErrorConfig, "connect", "invalid base url", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", newError(ErrorConfig, "connect", "unsupported scheme "+u.Scheme, nil)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns the single relay connection. Its state is read-only to
// callers; Connect and Disconnect are the only commands, and every
// transition is published on the event stream.
type RealtimeClient struct {
	baseURL string
	creds   CredentialSource
	config  *RealtimeConfig
	stream  *EventStream
	logger  Logger

	mu       sync.Mutex
	state    ConnectionState
	conn     *websocket.Conn
	gen      uint64 // bumped per Connect and Disconnect; stale goroutines compare it
	cancelFn context.CancelFunc
	attempt  int
	retry    *time.Timer
}

// NewRealtimeClient creates a client for the relay behind baseURL. A nil
// config uses defaults.
func NewRealtimeClient(baseURL string, creds CredentialSource, config *RealtimeConfig) *RealtimeClient {
	if config == nil {
		config = &RealtimeConfig{}
	}
	config.defaults()
	return &RealtimeClient{
		baseURL: baseURL,
		creds:   creds,
		config:  config,
		stream:  NewEventStream(),
		logger:  config.Logger,
		state:   StateDisconnected,
	}
}

// Events returns the live event stream.
func (rc *RealtimeClient) Events() *EventStream {
	return rc.stream
}

// State returns the current connection state.
func (rc *RealtimeClient) State() ConnectionState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// IsConnected reports whether the state is StateConnected.
func (rc *RealtimeClient) IsConnected() bool {
	return rc.State() == StateConnected
}

// Connect starts a connection attempt and returns without waiting for the
// handshake. It does nothing while Connecting or Connected. A missing or
// expired credential leaves the state unchanged, publishes AuthFailedEvent
// and returns an auth error. ctx bounds only the credential read; the
// connection itself lives until Disconnect or failure.
func (rc *RealtimeClient) Connect(ctx context.Context) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.connectLocked(ctx)
}

func (rc *RealtimeClient) connectLocked(ctx context.Context) error {
	if rc.state == StateConnecting || rc.state == StateConnected {
		return nil
	}
	rc.stopRetryLocked()

	token, reason, err := readCredential(ctx, rc.creds, rc.config.Now())
	if err != nil {
		rc.logger.Warn("connect skipped", map[string]any{"reason": string(reason), "error": err.Error()})
		rc.stream.Publish(AuthFailedEvent{Reason: reason, Err: err})
		return err
	}
	wsURL, err := RelayURL(rc.baseURL, rc.config.Path, token)
	if err != nil {
		return err
	}

	rc.gen++
	gen := rc.gen
	runCtx, cancel := context.WithCancel(context.Background())
	rc.cancelFn = cancel
	rc.setStateLocked(StateConnecting, nil)
	go rc.run(runCtx, gen, wsURL)
	return nil
}

// Disconnect closes the connection with a normal closure and moves to
// StateDisconnected. It is safe in any state and does not wait for the
// close handshake.
func (rc *RealtimeClient) Disconnect() error {
	rc.mu.Lock()
	rc.gen++
	rc.stopRetryLocked()
	rc.attempt = 0
	conn, cancel := rc.conn, rc.cancelFn
	rc.conn, rc.cancelFn = nil, nil
	if rc.state != StateDisconnected {
		rc.setStateLocked(StateDisconnected, nil)
	}
	rc.mu.Unlock()

	if conn != nil || cancel != nil {
		go func() {
			if conn != nil {
				conn.Close(websocket.StatusNormalClosure, "client disconnect")
			}
			if cancel != nil {
				cancel()
			}
		}()
	}
	return nil
}

// resetAttempts clears the retry counter so the next failure starts the
// backoff from the beginning.
func (rc *RealtimeClient) resetAttempts() {
	rc.mu.Lock()
	rc.attempt = 0
	rc.mu.Unlock()
}

func (rc *RealtimeClient) run(ctx context.Context, gen uint64, wsURL string) {
	dialCtx, cancelDial := context.WithCancel(ctx)
	defer cancelDial()
	// The dial context stays attached to the upgraded connection, so the
	// handshake deadline is a timer rather than context.WithTimeout.
	timer := time.AfterFunc(rc.config.HandshakeTimeout, cancelDial)

	conn, resp, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPClient: rc.config.HTTPClient,
	})
	if !timer.Stop() && err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
		err = context.DeadlineExceeded
	}
	if err != nil {
		rc.fail(gen, classifyDialError(resp, err))
		return
	}
	conn.SetReadLimit(rc.config.MaxFrameSize)

	rc.mu.Lock()
	if rc.gen != gen {
		rc.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return
	}
	rc.conn = conn
	rc.attempt = 0
	rc.setStateLocked(StateConnected, nil)
	rc.mu.Unlock()
	rc.logger.Info("relay connected", nil)

	if rc.config.HeartbeatInterval > 0 {
		go rc.heartbeatLoop(dialCtx, gen, conn)
	}
	rc.readLoop(dialCtx, gen, conn)
}

// heartbeatLoop pings the relay until the connection ends. A ping without a
// pong inside WriteTimeout fails the connection.
func (rc *RealtimeClient) heartbeatLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	ticker := time.NewTicker(rc.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, rc.config.WriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			rc.fail(gen, newError(ErrorTransport, "connect", "heartbeat timeout", err))
			conn.CloseNow()
			return
		}
	}
}

// readLoop decodes frames in arrival order until the connection ends.
// Undecodable and oversize frames are dropped without touching the
// connection.
func (rc *RealtimeClient) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	for {
		typ, r, err := conn.Reader(ctx)
		if err != nil {
			rc.closed(gen, err)
			return
		}
		data, err := io.ReadAll(io.LimitReader(r, rc.config.ReadLimit+1))
		if err != nil {
			rc.closed(gen, err)
			return
		}
		if int64(len(data)) > rc.config.ReadLimit {
			rest, err := io.Copy(io.Discard, r)
			if err != nil {
				// Past MaxFrameSize the library has already sent 1009.
				if int64(len(data))+rest >= rc.config.MaxFrameSize && ctx.Err() == nil {
					rc.fail(gen, newError(ErrorTransport, "connect", "frame exceeds max frame size", err))
					conn.CloseNow()
					return
				}
				rc.closed(gen, err)
				return
			}
			FramesTotal.WithLabelValues("dropped").Inc()
			rc.logger.Debug("frame dropped", map[string]any{
				"error": "frame exceeds read limit",
				"size":  int64(len(data)) + rest,
			})
			continue
		}
		if typ != websocket.MessageText {
			FramesTotal.WithLabelValues("dropped").Inc()
			continue
		}
		ev, derr := decodeEvent(data)
		if derr != nil {
			FramesTotal.WithLabelValues("dropped").Inc()
			rc.logger.Debug("frame dropped", map[string]any{"error": derr.Error()})
			continue
		}
		FramesTotal.WithLabelValues("decoded").Inc()

		// A superseded connection may still deliver buffered frames.
		rc.mu.Lock()
		current := rc.gen == gen
		rc.mu.Unlock()
		if !current {
			return
		}
		rc.stream.Publish(ev)
	}
}

// closed classifies the end of an established connection.
func (rc *RealtimeClient) closed(gen uint64, err error) {
	switch code := websocket.CloseStatus(err); code {
	case websocket.StatusNormalClosure:
		rc.mu.Lock()
		defer rc.mu.Unlock()
		if rc.gen != gen {
			return
		}
		rc.conn = nil
		if rc.cancelFn != nil {
			rc.cancelFn()
			rc.cancelFn = nil
		}
		rc.logger.Info("relay closed", map[string]any{"code": int(code)})
		rc.setStateLocked(StateDisconnected, nil)
	case websocket.StatusUnsupportedData, websocket.StatusPolicyViolation:
		rc.fail(gen, &Error{Kind: ErrorAuth, Op: "connect", Message: "relay rejected credential", Err: err})
	case websocket.StatusMessageTooBig:
		rc.fail(gen, newError(ErrorTransport, "connect", "relay rejected frame size", err))
	default:
		rc.fail(gen, newError(ErrorTransport, "connect", "connection lost", err))
	}
}

// fail moves to StateFailed unless gen is stale or already failed,
// publishes AuthFailedEvent for auth errors and consults the reconnect
// policy.
func (rc *RealtimeClient) fail(gen uint64, cause error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.gen != gen || rc.state == StateFailed {
		return
	}
	rc.conn = nil
	if rc.cancelFn != nil {
		rc.cancelFn()
		rc.cancelFn = nil
	}
	rc.logger.Warn("relay connection failed", map[string]any{"error": cause.Error()})
	rc.setStateLocked(StateFailed, cause)
	if IsAuthError(cause) {
		rc.stream.Publish(AuthFailedEvent{Reason: AuthRejected, Err: cause})
	}

	delay, ok := rc.config.ReconnectPolicy.Next(rc.attempt, cause)
	if !ok {
		return
	}
	rc.attempt++
	attempt := rc.attempt
	rc.stream.Publish(ReconnectScheduledEvent{Attempt: attempt, Delay: delay})
	rc.logger.Info("reconnect scheduled", map[string]any{"attempt": attempt, "delay": delay.String()})
	rc.retry = time.AfterFunc(delay, func() {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		if rc.gen != gen || rc.state != StateFailed {
			return
		}
		rc.retry = nil
		_ = rc.connectLocked(context.Background())
	})
}

func (rc *RealtimeClient) setStateLocked(to ConnectionState, cause error) {
	from := rc.state
	rc.state = to
	StateTransitionsTotal.WithLabelValues(string(to)).Inc()
	rc.stream.Publish(StateChangeEvent{From: from, To: to, Err: cause})
}

func (rc *RealtimeClient) stopRetryLocked() {
	if rc.retry != nil {
		rc.retry.Stop()
		rc.retry = nil
	}
}

// sendSignal writes one typing frame. sent is false when not connected.
func (rc *RealtimeClient) sendSignal(ctx context.Context, sig TypingSignal) (sent bool, err error) {
	rc.mu.Lock()
	conn := rc.conn
	connected := rc.state == StateConnected
	rc.mu.Unlock()
	if !connected || conn == nil {
		return false, nil
	}

	data, err := EncodeSignal(sig)
	if err != nil {
		return false, newError(ErrorPayload, "signal", "failed to encode signal", err)
	}
	ctx, cancel := context.WithTimeout(ctx, rc.config.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return false, newError(ErrorTransport, "signal", "failed to write signal", err)
	}
	return true, nil
}

// classifyDialError maps a failed handshake to an auth error when the relay
// refused the upgrade with 401 or 403.
func classifyDialError(resp *http.Response, err error) error {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return &Error{Kind: ErrorAuth, Op: "connect", Message: "relay refused handshake", StatusCode: resp.StatusCode, Err: err}
	}
	e := newError(ErrorTransport, "connect", "handshake failed", err)
	if resp != nil {
		e.StatusCode = resp.StatusCode
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		e.Message = "handshake timed out"
	}
	return e
}
