package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solaris-dev/pylon/internal/presence"
)

// State tracks the client's position in the connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateIdentifying  State = "identifying"
	StateResuming     State = "resuming"
	StateConnected    State = "connected"
	StateExhausted    State = "exhausted"
)

// ErrReconnectExhausted is the terminal error after the retry budget is
// spent. The relay is useless without upstream data, so the process exits.
var ErrReconnectExhausted = errors.New("gateway: reconnect attempts exhausted")

const gatewayWriteTimeout = 3 * time.Second

type Config struct {
	URL                      string
	Token                    string
	MaxReconnectAttempts     int
	RateLimitRetryDelay      time.Duration
	DefaultHeartbeatInterval time.Duration

	// OnStateChange is an optional observation hook; it runs on the
	// client's goroutines and must not block.
	OnStateChange func(State)
}

// Client keeps exactly one logical session alive against the remote
// gateway and surfaces two event streams: Ready and PresenceUpdates.
type Client struct {
	cfg    Config
	dialer websocket.Dialer

	ready   chan ReadyEvent
	updates chan presence.Update

	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	started   bool

	// backoffBase is the first reconnect delay; tests shrink it.
	backoffBase time.Duration

	writeMu sync.Mutex

	mu                sync.Mutex
	state             State
	conn              *websocket.Conn
	sessionID         string
	sequence          int64
	hasSequence       bool
	resumeURL         string
	heartbeatInterval time.Duration
	generation        uint64
	hbGeneration      uint64
	awaitingAck       bool
	attempts          int
	cooldown          time.Duration
	terminalErr       error
}

func New(cfg Config) *Client {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.RateLimitRetryDelay <= 0 {
		cfg.RateLimitRetryDelay = 5 * time.Second
	}
	if cfg.DefaultHeartbeatInterval <= 0 {
		cfg.DefaultHeartbeatInterval = 41250 * time.Millisecond
	}
	return &Client{
		cfg:         cfg,
		dialer:      websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: 4 * time.Second},
		ready:       make(chan ReadyEvent, 4),
		updates:     make(chan presence.Update, 256),
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
		backoffBase: time.Second,
		state:       StateDisconnected,
	}
}

// Ready delivers one event per established logical session.
func (c *Client) Ready() <-chan ReadyEvent { return c.ready }

// PresenceUpdates delivers raw presence events. The channel is bounded;
// events are dropped rather than stalling the read loop.
func (c *Client) PresenceUpdates() <-chan presence.Update { return c.updates }

// Done is closed when the client has stopped for good.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports the terminal error, if any, once Done is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminalErr
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Sequence returns the last consumed sequence number.
func (c *Client) Sequence() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence, c.hasSequence
}

// Start launches the connection supervisor.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	go c.run()
}

// Close shuts the socket and all timers down and waits for the supervisor
// to exit. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.closing)
		c.mu.Lock()
		conn := c.conn
		c.generation++
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
	})
	if started {
		<-c.done
	}
}

type disconnectReason int

const (
	reasonError disconnectReason = iota
	reasonReconnectRequested
	reasonRateLimited
	reasonShutdown
)

func (c *Client) run() {
	defer close(c.done)

	for {
		if c.isClosing() {
			c.setState(StateDisconnected)
			return
		}
		if cd := c.takeCooldown(); cd > 0 {
			log.Printf("gateway: rate limited, retrying in %v", cd)
			if !c.sleep(cd) {
				c.setState(StateDisconnected)
				return
			}
		}

		c.setState(StateConnecting)
		conn, resp, err := c.dialer.Dial(c.dialTarget(), nil)
		if err != nil {
			if resp != nil {
				log.Printf("gateway: dial failed (%s): %v", resp.Status, err)
			} else {
				log.Printf("gateway: dial failed: %v", err)
			}
			if c.isClosing() {
				c.setState(StateDisconnected)
				return
			}
			if !c.backoff() {
				c.fail()
				return
			}
			continue
		}

		c.attach(conn)
		c.authenticate(conn)
		reason := c.readLoop(conn)
		c.detach(conn)

		switch reason {
		case reasonShutdown:
			c.setState(StateDisconnected)
			return
		case reasonReconnectRequested, reasonRateLimited:
			// Remote asked for it; reconnect without burning the budget.
			continue
		default:
			if !c.backoff() {
				c.fail()
				return
			}
		}
	}
}

// dialTarget prefers the resume endpoint whenever the remote supplied one.
func (c *Client) dialTarget() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resumeURL != "" {
		return c.resumeURL
	}
	return c.cfg.URL
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.generation++
	c.awaitingAck = false
	c.mu.Unlock()
}

// detach invalidates the connection's generation so any timer still armed
// for it becomes a no-op, then closes the socket.
func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = nil
	c.generation++
	c.mu.Unlock()
	_ = conn.Close()
}

// authenticate resumes when the full session triple is present, otherwise
// performs a fresh identify.
func (c *Client) authenticate(conn *websocket.Conn) {
	c.mu.Lock()
	canResume := c.sessionID != "" && c.hasSequence && c.resumeURL != ""
	sessionID := c.sessionID
	seq := c.sequence
	c.mu.Unlock()

	if canResume {
		c.setState(StateResuming)
		c.send(conn, opResume, resumeData{Token: c.cfg.Token, SessionID: sessionID, Seq: seq})
		return
	}
	c.identify(conn)
}

func (c *Client) identify(conn *websocket.Conn) {
	c.setState(StateIdentifying)
	c.send(conn, opIdentify, identifyData{
		Token:   c.cfg.Token,
		Intents: intentPresences,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "pylon",
			Device:  "pylon",
		},
	})
}

func (c *Client) readLoop(conn *websocket.Conn) disconnectReason {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosing() {
				return reasonShutdown
			}
			log.Printf("gateway: connection closed: %v", err)
			return reasonError
		}

		var p payload
		if err := json.Unmarshal(data, &p); err != nil {
			log.Printf("gateway: failed to parse payload: %v", err)
			continue
		}
		// Sequence bookkeeping happens before any opcode handling.
		if p.S != nil {
			c.setSequence(*p.S)
		}

		switch p.Op {
		case opHello:
			var h helloData
			if err := json.Unmarshal(p.D, &h); err != nil {
				log.Printf("gateway: bad hello payload: %v", err)
				continue
			}
			interval := time.Duration(h.HeartbeatInterval) * time.Millisecond
			if interval <= 0 {
				interval = c.cfg.DefaultHeartbeatInterval
			}
			c.startHeartbeat(conn, interval)
		case opHeartbeatACK:
			c.mu.Lock()
			c.awaitingAck = false
			c.mu.Unlock()
		case opDispatch:
			c.handleDispatch(p)
		case opReconnect:
			log.Printf("gateway: remote requested reconnect")
			return reasonReconnectRequested
		case opInvalidSession:
			log.Printf("gateway: invalid session, re-identifying")
			c.mu.Lock()
			c.sessionID = ""
			c.mu.Unlock()
			c.identify(conn)
		case opRateLimit:
			var rl rateLimitData
			retry := c.cfg.RateLimitRetryDelay
			if err := json.Unmarshal(p.D, &rl); err == nil && rl.RetryAfter > 0 {
				retry = time.Duration(rl.RetryAfter) * time.Millisecond
			}
			c.setCooldown(retry)
			return reasonRateLimited
		default:
			// Unhandled opcodes are ignored, sequence already recorded.
		}
	}
}

func (c *Client) handleDispatch(p payload) {
	switch p.T {
	case eventReady:
		var rd readyData
		if err := json.Unmarshal(p.D, &rd); err != nil {
			log.Printf("gateway: bad ready payload: %v", err)
			return
		}
		c.mu.Lock()
		c.sessionID = rd.SessionID
		if rd.ResumeGatewayURL != "" {
			c.resumeURL = rd.ResumeGatewayURL
		}
		c.mu.Unlock()
		c.setState(StateConnected)
		log.Printf("gateway: session established as %s", rd.User.Username)
		c.emitReady(ReadyEvent{SessionID: rd.SessionID, User: rd.User})
	case eventResumed:
		c.setState(StateConnected)
		log.Printf("gateway: session resumed")
	case eventPresenceUpdate:
		var u presence.Update
		if err := json.Unmarshal(p.D, &u); err != nil {
			log.Printf("gateway: bad presence payload: %v", err)
			return
		}
		select {
		case c.updates <- u:
		default:
			log.Printf("gateway: presence buffer full, dropping update for %s", u.User.ID)
		}
	default:
		// Other dispatches carry nothing this relay needs.
	}
}

func (c *Client) emitReady(ev ReadyEvent) {
	select {
	case c.ready <- ev:
	default:
	}
}

// startHeartbeat arms the heartbeat ticker for the current connection
// generation. A ticker left over from a previous generation exits on its
// next tick without sending.
func (c *Client) startHeartbeat(conn *websocket.Conn, interval time.Duration) {
	c.mu.Lock()
	gen := c.generation
	if c.hbGeneration == gen {
		c.mu.Unlock()
		return
	}
	c.hbGeneration = gen
	c.heartbeatInterval = interval
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.closing:
				return
			case <-ticker.C:
				if !c.sameGeneration(gen) {
					return
				}
				c.sendHeartbeat(conn)
			}
		}
	}()
}

func (c *Client) sendHeartbeat(conn *websocket.Conn) {
	c.mu.Lock()
	var seq any
	if c.hasSequence {
		seq = c.sequence
	}
	c.awaitingAck = true
	c.mu.Unlock()
	// A missed ack is not acted on; transport close/error is the only
	// failure signal, matching the upstream contract this client mirrors.
	c.send(conn, opHeartbeat, seq)
}

func (c *Client) send(conn *websocket.Conn, op int, d any) {
	raw, err := json.Marshal(d)
	if err != nil {
		log.Printf("gateway: marshal op %d: %v", op, err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(gatewayWriteTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	if err := conn.WriteJSON(payload{Op: op, D: raw}); err != nil {
		log.Printf("gateway: write op %d: %v", op, err)
	}
}

// backoff sleeps before the next attempt. Returns false when the retry
// budget is spent or the client is shutting down.
func (c *Client) backoff() bool {
	c.mu.Lock()
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.mu.Unlock()
		return false
	}
	c.attempts++
	attempt := c.attempts
	limit := c.heartbeatInterval
	if limit <= 0 {
		limit = c.cfg.DefaultHeartbeatInterval
	}
	max := c.cfg.MaxReconnectAttempts
	c.mu.Unlock()

	delay := backoffDelay(attempt, c.backoffBase, limit)
	log.Printf("gateway: reconnecting in %v (attempt %d/%d)", delay, attempt, max)
	return c.sleep(delay)
}

// backoffDelay is min(base * 2^(attempt-1), limit).
func backoffDelay(attempt int, base, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

func (c *Client) fail() {
	c.mu.Lock()
	c.terminalErr = fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, c.attempts)
	c.mu.Unlock()
	c.setState(StateExhausted)
	log.Printf("gateway: max reconnection attempts reached")
}

func (c *Client) setSequence(s int64) {
	c.mu.Lock()
	c.sequence = s
	c.hasSequence = true
	c.mu.Unlock()
}

func (c *Client) setCooldown(d time.Duration) {
	c.mu.Lock()
	c.cooldown = d
	c.mu.Unlock()
}

func (c *Client) takeCooldown() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.cooldown
	c.cooldown = 0
	return d
}

func (c *Client) sameGeneration(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

func (c *Client) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

// sleep waits for d unless the client is closed first.
func (c *Client) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.closing:
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	hook := c.cfg.OnStateChange
	c.mu.Unlock()
	if hook != nil {
		hook(s)
	}
}
