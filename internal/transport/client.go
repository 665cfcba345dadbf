// Package transport owns the WebSocket session with the printer backend:
// authentication, command serialization, inbound dispatch, keep-alive and
// reconnection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fabdeck/fabdeck/internal/notify"
	"github.com/fabdeck/fabdeck/internal/protocol"
	"github.com/fabdeck/fabdeck/internal/session"
)

const (
	// KeepAliveInterval is how often a PING is sent on an open socket
	KeepAliveInterval = 30 * time.Second
	// ReconnectBaseDelay is multiplied by the attempt number (linear backoff)
	ReconnectBaseDelay = 2 * time.Second
	// MaxReconnectAttempts is the number of automatic retries after a close
	MaxReconnectAttempts = 5

	writeTimeout = 10 * time.Second
)

var (
	// ErrNotConnected is returned by Send when the socket is not open
	ErrNotConnected = errors.New("not connected to server")
	// ErrAuthRequired is returned by Connect when a token is needed but missing
	ErrAuthRequired = errors.New("authentication required")
	// ErrClosed is returned by Connect after Close; Reconnect reopens
	ErrClosed = errors.New("connection closed")
)

// Observer is notified of telemetry and connection changes
type Observer interface {
	OnStatusUpdate(contextID string, status protocol.PrinterStatus)
	OnConnectionChange(connected bool)
}

// Observers fans every callback out to each non-nil observer in order
type Observers []Observer

// OnStatusUpdate implements Observer
func (o Observers) OnStatusUpdate(contextID string, status protocol.PrinterStatus) {
	for _, obs := range o {
		if obs != nil {
			obs.OnStatusUpdate(contextID, status)
		}
	}
}

// OnConnectionChange implements Observer
func (o Observers) OnConnectionChange(connected bool) {
	for _, obs := range o {
		if obs != nil {
			obs.OnConnectionChange(connected)
		}
	}
}

// AfterFunc schedules f after d and returns a function that cancels it.
// time.AfterFunc is used unless a test substitutes its own.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	Notifier             notify.Notifier
	Observer             Observer
	Dialer               *websocket.Dialer
	AfterFunc            AfterFunc
	KeepAliveInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	Verbose              bool
}

// Client is the single WebSocket connection to the backend
type Client struct {
	endpoint    string
	state       *session.State
	notifier    notify.Notifier
	observer    Observer
	dialer      *websocket.Dialer
	afterFunc   AfterFunc
	keepAlive   time.Duration
	baseDelay   time.Duration
	maxAttempts int
	verbose     bool

	mu              sync.Mutex
	conn            *websocket.Conn
	connecting      bool
	closed          bool
	stopKeepAlive   chan struct{}
	cancelReconnect func() bool
	lastPong        time.Time

	writeMu sync.Mutex
}

// EndpointURL derives the WebSocket endpoint from the backend's HTTP root
func EndpointURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server URL %q has no host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	return u.String(), nil
}

// New creates a client for the backend at baseURL. The socket is not opened
// until Connect is called.
func New(baseURL string, state *session.State, opts Options) (*Client, error) {
	endpoint, err := EndpointURL(baseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		endpoint:    endpoint,
		state:       state,
		notifier:    opts.Notifier,
		observer:    opts.Observer,
		dialer:      opts.Dialer,
		afterFunc:   opts.AfterFunc,
		keepAlive:   opts.KeepAliveInterval,
		baseDelay:   opts.ReconnectBaseDelay,
		maxAttempts: opts.MaxReconnectAttempts,
		verbose:     opts.Verbose,
	}
	if c.notifier == nil {
		c.notifier = notify.Discard
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.afterFunc == nil {
		c.afterFunc = realAfterFunc
	}
	if c.keepAlive <= 0 {
		c.keepAlive = KeepAliveInterval
	}
	if c.baseDelay <= 0 {
		c.baseDelay = ReconnectBaseDelay
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = MaxReconnectAttempts
	}
	return c, nil
}

// Connect opens the socket. It does nothing and returns ErrAuthRequired when
// the backend requires a token and none is held, and ErrClosed after Close.
// A failed dial is handled like a close: the reconnect policy decides
// whether to retry.
func (c *Client) Connect(ctx context.Context) error {
	if c.state.AuthRequired() && c.state.AuthToken() == "" {
		log.Printf("[WARN] transport: not connecting, no auth token")
		return ErrAuthRequired
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	target := c.endpoint
	if c.state.AuthRequired() {
		target += "?token=" + url.QueryEscape(c.state.AuthToken())
	}

	conn, _, err := c.dialer.DialContext(ctx, target, nil)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.mu.Unlock()
		log.Printf("[WARN] transport: dial %s failed: %v", c.endpoint, err)
		c.onClose()
		return fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
	}
	if c.closed {
		// Close was called while dialing
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	stop := make(chan struct{})
	c.stopKeepAlive = stop
	c.mu.Unlock()

	c.state.SetConnected(true)
	c.state.ResetReconnectAttempts()
	log.Printf("[INFO] transport: connected to %s", c.endpoint)
	if c.observer != nil {
		c.observer.OnConnectionChange(true)
	}

	go c.readLoop(conn)
	go c.keepAliveLoop(stop)

	// A fresh socket always asks for telemetry right away
	if err := c.Send(protocol.RequestStatus{}); err != nil {
		log.Printf("[WARN] transport: initial status request failed: %v", err)
	}
	return nil
}

// Reconnect is the explicit user-driven retry. It cancels any scheduled
// attempt, reopens a closed client and restarts the backoff cycle from zero.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	c.closed = false
	if c.cancelReconnect != nil {
		c.cancelReconnect()
		c.cancelReconnect = nil
	}
	c.mu.Unlock()

	c.state.ResetReconnectAttempts()
	return c.Connect(ctx)
}

// Close shuts the socket down without triggering reconnection
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.cancelReconnect != nil {
		c.cancelReconnect()
		c.cancelReconnect = nil
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

// IsOpen reports whether the socket is currently open
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// LastPong returns when the backend last acknowledged a PING
func (c *Client) LastPong() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// Send writes cmd if the socket is open. Commands are never queued: when
// the socket is closed the user is told and ErrNotConnected is returned.
func (c *Client) Send(cmd protocol.Command) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.notifier.Notify(notify.Warning, "Not connected to server")
		return ErrNotConnected
	}

	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Printf("[WARN] transport: write %s failed: %v", cmd.CommandType(), err)
		return fmt.Errorf("failed to send %s: %w", cmd.CommandType(), err)
	}
	if c.verbose {
		log.Printf("[DEBUG] transport: sent %s", cmd.CommandType())
	}
	return nil
}

// RequestStatus asks the backend for a fresh STATUS_UPDATE
func (c *Client) RequestStatus() error {
	return c.Send(protocol.RequestStatus{})
}

// ExecuteGCode sends a raw G-code line to the active printer
func (c *Client) ExecuteGCode(gcode string) error {
	return c.Send(protocol.ExecuteGCode{GCode: strings.TrimSpace(gcode)})
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[WARN] transport: socket error: %v", err)
			}
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.conn = nil
				if c.stopKeepAlive != nil {
					close(c.stopKeepAlive)
					c.stopKeepAlive = nil
				}
			}
			c.mu.Unlock()
			conn.Close()
			if current {
				c.onClose()
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) keepAliveLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.IsOpen() {
				continue
			}
			if err := c.Send(protocol.Ping{}); err != nil {
				log.Printf("[WARN] transport: keep-alive failed: %v", err)
			}
		}
	}
}

// onClose applies the reconnect policy. Socket errors end up here too; they
// never log the user out on their own.
func (c *Client) onClose() {
	c.state.SetConnected(false)
	if c.observer != nil {
		c.observer.OnConnectionChange(false)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		log.Printf("[INFO] transport: connection closed")
		return
	}

	if !c.state.IsAuthenticated() {
		log.Printf("[INFO] transport: connection lost, not authenticated, not reconnecting")
		return
	}

	if c.state.ReconnectAttempts() >= c.maxAttempts {
		log.Printf("[ERROR] transport: giving up after %d reconnect attempts", c.maxAttempts)
		c.notifier.Notify(notify.Error, "Connection lost. Refresh or log in again to reconnect.")
		return
	}

	attempt := c.state.IncrementReconnectAttempts()
	delay := c.baseDelay * time.Duration(attempt)
	log.Printf("[INFO] transport: reconnecting in %s (attempt %d/%d)", delay, attempt, c.maxAttempts)

	c.mu.Lock()
	c.cancelReconnect = c.afterFunc(delay, func() {
		c.mu.Lock()
		c.cancelReconnect = nil
		closed := c.closed
		c.mu.Unlock()
		// Close may have lost the race with a timer that already fired
		if closed {
			return
		}
		c.Connect(context.Background())
	})
	c.mu.Unlock()
}

func (c *Client) dispatch(data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownMessage) {
			if c.verbose {
				log.Printf("[DEBUG] transport: ignoring %v", err)
			}
			return
		}
		log.Printf("[WARN] transport: dropping message: %v", err)
		return
	}

	switch m := msg.(type) {
	case protocol.AuthSuccessMessage:
		c.state.MarkAuthenticated()
		log.Printf("[INFO] transport: authenticated (client %s)", m.ClientID)
	case protocol.StatusUpdateMessage:
		status := m.Status
		c.state.SetPrinterStatus(&status)
		if c.observer != nil {
			contextID := m.ContextID
			if contextID == "" {
				contextID = c.state.ActiveContextID()
			}
			c.observer.OnStatusUpdate(contextID, status)
		}
	case protocol.ErrorMessage:
		log.Printf("[WARN] transport: backend error: %s", m.Error)
		c.notifier.Notify(notify.Error, m.Error)
	case protocol.CommandResultMessage:
		if m.Success {
			c.notifier.Notify(notify.Success, "Command executed")
		} else {
			c.notifier.Notify(notify.Error, "Command failed: "+m.Error)
		}
	case protocol.PongMessage:
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
	case protocol.SpoolmanUpdateMessage:
		if m.ContextID == "" || m.ContextID == c.state.ActiveContextID() {
			c.state.SetActiveSpool(m.Spool)
		}
	default:
		log.Printf("[WARN] transport: unhandled message %T", msg)
	}
}
