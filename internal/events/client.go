package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"archivist/pkg/logging"
)

const subsystem = "Events"

// Reconnect defaults.
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 5

	// DefaultHandshakeTimeout bounds the websocket handshake.
	DefaultHandshakeTimeout = 10 * time.Second
)

const closeGracePeriod = time.Second

// ErrNoAccessToken is returned by Connect when there is no token to
// authenticate the stream with.
var ErrNoAccessToken = errors.New("events: no access token available")

// State is the connection state of a Client.
type State int

const (
	// StateIdle means no connection and no reconnect pending.
	StateIdle State = iota
	// StateConnecting means a handshake is in progress.
	StateConnecting
	// StateOpen means the socket is established.
	StateOpen
	// StateClosed means the socket dropped; a reconnect may be scheduled.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TokenSource supplies the current access token, or "" when there is none.
type TokenSource interface {
	AccessToken() string
}

// Endpoint builds the stream URL for an access token.
type Endpoint interface {
	EventStreamURL(accessToken string) string
}

// Config configures a Client. Endpoint and Tokens are required.
type Config struct {
	Endpoint Endpoint
	Tokens   TokenSource

	// Registry defaults to a new, empty registry.
	Registry *Registry

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// Dialer defaults to a websocket.Dialer with DefaultHandshakeTimeout.
	Dialer *websocket.Dialer
}

// timer is the part of *time.Timer the client uses.
type timer interface {
	Stop() bool
}

// Client is a reconnecting event stream consumer. It is safe for concurrent
// use.
type Client struct {
	endpoint    Endpoint
	tokens      TokenSource
	registry    *Registry
	dialer      *websocket.Dialer
	maxAttempts int

	// afterFunc schedules reconnects; replaced in tests.
	afterFunc func(time.Duration, func()) timer

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	attempts int
	backoff  *backoff.ExponentialBackOff
	retry    timer
	// gen changes on every Disconnect so stale dials, readers and timers
	// can tell they have been superseded.
	gen uint64
}

// New returns an idle client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == nil || cfg.Tokens == nil {
		return nil, errors.New("events: Endpoint and Tokens are required")
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		return nil, fmt.Errorf("events: max delay %s is shorter than base delay %s", cfg.MaxDelay, cfg.BaseDelay)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: DefaultHandshakeTimeout}
	}

	return &Client{
		endpoint:    cfg.Endpoint,
		tokens:      cfg.Tokens,
		registry:    cfg.Registry,
		dialer:      cfg.Dialer,
		maxAttempts: cfg.MaxAttempts,
		backoff:     newBackOff(cfg.BaseDelay, cfg.MaxDelay),
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}, nil
}

// newBackOff yields min(base*2^k, ceiling) for k = 1, 2, ...
func newBackOff(base, ceiling time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min(2*base, ceiling)
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = ceiling
	b.Reset()
	return b
}

// Registry returns the registry events are dispatched to.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Subscribe is shorthand for c.Registry().Subscribe.
func (c *Client) Subscribe(t Type, h Handler) func() {
	return c.registry.Subscribe(t, h)
}

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of reconnect attempts since the last
// successful open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Connect opens the stream. It returns nil without doing anything when the
// stream is already open or a handshake is in progress, and ErrNoAccessToken
// when there is no token. A failed handshake is returned and also schedules
// a reconnect.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateOpen || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.stopRetryLocked()

	token := c.tokens.AccessToken()
	if token == "" {
		c.state = StateIdle
		c.mu.Unlock()
		return ErrNoAccessToken
	}

	// An explicit Connect restarts the attempt budget.
	c.attempts = 0
	c.backoff.Reset()
	c.state = StateConnecting
	gen := c.gen
	c.mu.Unlock()

	return c.open(ctx, token, gen)
}

// Disconnect closes the socket and cancels any pending reconnect.
// Subscriptions are kept.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopRetryLocked()
	conn := c.conn
	c.conn = nil
	c.state = StateIdle
	c.attempts = 0
	c.backoff.Reset()
	c.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod))
	_ = conn.Close()
	logging.Info(subsystem, "Event stream disconnected")
}

// open dials with token and, on success, starts the reader. Called with
// state Connecting and c.mu not held.
func (c *Client) open(ctx context.Context, token string, gen uint64) error {
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint.EventStreamURL(token), nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		// Disconnected while dialing.
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		c.state = StateClosed
		logging.Warn(subsystem, "Event stream handshake failed: %v", err)
		c.scheduleReconnectLocked()
		return fmt.Errorf("connecting event stream: %w", err)
	}

	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.backoff.Reset()
	logging.Info(subsystem, "Event stream connected")

	go c.readLoop(conn, gen)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn, gen, err)
			return
		}
		c.handleMessage(conn, data)
	}
}

func (c *Client) handleMessage(conn *websocket.Conn, data []byte) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		logging.Warn(subsystem, "Discarding malformed message: %v", err)
		return
	}

	if head.Type == TypePing {
		// Only the reader goroutine writes data frames.
		if err := conn.WriteJSON(message{Type: TypePong}); err != nil {
			logging.Debug(subsystem, "Failed to answer ping: %v", err)
		}
		return
	}

	ev, err := Decode(data)
	if err != nil {
		logging.Warn(subsystem, "Discarding message: %v", err)
		return
	}
	if n := c.registry.Dispatch(ev); n == 0 {
		logging.Debug(subsystem, "No handlers for %s, event dropped", ev.Type)
	}
}

func (c *Client) handleDrop(conn *websocket.Conn, gen uint64, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen || c.conn != conn {
		return
	}
	_ = conn.Close()
	c.conn = nil
	c.state = StateClosed
	logging.Warn(subsystem, "Event stream closed: %v", cause)
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the retry timer unless there is no token or
// the attempt budget is spent.
func (c *Client) scheduleReconnectLocked() {
	if c.tokens.AccessToken() == "" {
		c.state = StateIdle
		logging.Debug(subsystem, "No access token, not reconnecting")
		return
	}
	if c.attempts >= c.maxAttempts {
		logging.Warn(subsystem, "Giving up on event stream after %d attempts", c.attempts)
		return
	}

	c.attempts++
	delay := c.backoff.NextBackOff()
	gen := c.gen
	logging.Debug(subsystem, "Reconnect attempt %d in %s", c.attempts, delay)
	c.retry = c.afterFunc(delay, func() { c.reconnect(gen) })
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateClosed {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	token := c.tokens.AccessToken()
	if token == "" {
		c.state = StateIdle
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	_ = c.open(context.Background(), token, gen)
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}
