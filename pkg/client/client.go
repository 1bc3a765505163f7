// Package client is a Go mirror of original_source/linear_stage/api/python's
// RemoteLinearStage: a small library wrapping the HTTP and persistent-channel
// surfaces of a device session server, so callers can treat a remote
// instrument like a local object. It runs three cooperative background
// watchdogs (auth, state, channel) as the Python client does; Close stops
// all three and waits for each to exit, in no fixed order.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
)

const (
	authWatchdogInterval  = time.Second
	stateWatchdogInterval = 5 * time.Second
	reconnectDelay        = 2 * time.Second
	tokenRefreshWindow    = 30 * time.Second
)

// Config describes how to reach one device session server.
type Config struct {
	BaseURL    string // e.g. "http://localhost:8080/"
	WSURL      string // e.g. "ws://localhost:8080/ws"
	Username   string
	Password   string
	HTTPClient *http.Client
	Log        zerolog.Logger

	// OnUpdate is invoked, from the channel watchdog's goroutine, for every
	// message received over the persistent channel that carries no "id"
	// field (an unsolicited update event rather than a command reply).
	OnUpdate func(map[string]interface{})
}

// Client is a running connection to one device session server: it keeps an
// access token fresh, mirrors the server's current parameter set, and
// maintains one persistent channel for low-latency commands.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger

	authMu    sync.RWMutex
	token     string
	tokenType string

	stateMu    sync.RWMutex
	parameters map[string]interface{}

	wsMu   sync.Mutex
	wsConn *websocket.Conn

	pendingMu sync.Mutex
	pending   map[int]chan map[string]interface{}
	nextCmdID int64

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

var ErrNotAuthenticated = errors.New("client: not authenticated")

// New authenticates against cfg and starts all three watchdogs. Call
// Close when done to stop them.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	c := &Client{
		cfg:        cfg,
		http:       cfg.HTTPClient,
		log:        cfg.Log,
		parameters: make(map[string]interface{}),
		pending:    make(map[int]chan map[string]interface{}),
		stop:       make(chan struct{}),
	}

	if err := c.authenticate(ctx); err != nil {
		return nil, fmt.Errorf("client: initial authentication failed: %w", err)
	}
	if err := c.refreshState(ctx); err != nil {
		c.log.Warn().Err(err).Msg("initial state fetch failed, continuing anyway")
	}

	c.running.Store(true)
	c.wg.Add(3)
	go c.authWatchdog()
	go c.stateWatchdog()
	go c.channelWatchdog()

	return c, nil
}

// Close halts all background work. It signals all three watchdogs, closes
// the persistent channel so that the channel watchdog's pending read
// returns, and then waits for all three to exit; the waits are not ordered.
func (c *Client) Close() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.stop)
	c.wsMu.Lock()
	if c.wsConn != nil {
		c.wsConn.Close()
	}
	c.wsMu.Unlock()
	c.wg.Wait()
}

// Parameters returns a snapshot of the most recently cached parameter set.
func (c *Client) Parameters() map[string]interface{} {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	out := make(map[string]interface{}, len(c.parameters))
	for k, v := range c.parameters {
		out[k] = v
	}
	return out
}

func (c *Client) authHeader() string {
	c.authMu.RLock()
	defer c.authMu.RUnlock()
	if c.token == "" {
		return ""
	}
	return c.tokenType + " " + c.token
}

// authenticate posts credentials to /token and stores the resulting access
// token, matching httpapi.TokenHandler's form-encoded contract.
func (c *Client) authenticate(ctx context.Context) error {
	form := url.Values{"username": {c.cfg.Username}, "password": {c.cfg.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"token", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: token request failed with status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if body.AccessToken == "" {
		return ErrNotAuthenticated
	}

	c.authMu.Lock()
	c.token = body.AccessToken
	c.tokenType = body.TokenType
	c.authMu.Unlock()
	return nil
}

// needsReauthentication decodes the local token without verifying its
// signature (verification is comparatively expensive and the server will
// reject a forged token anyway), checking only basic shape and expiry.
func (c *Client) needsReauthentication() bool {
	c.authMu.RLock()
	token := c.token
	c.authMu.RUnlock()

	if token == "" {
		return true
	}
	parsed, err := jwt.Parse([]byte(token), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return true
	}
	exp := parsed.Expiration()
	if exp.IsZero() {
		return true
	}
	return time.Until(exp) < tokenRefreshWindow
}

func (c *Client) authWatchdog() {
	defer c.wg.Done()
	ticker := time.NewTicker(authWatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.needsReauthentication() {
				if err := c.authenticate(context.Background()); err != nil {
					c.log.Warn().Err(err).Msg("reauthentication failed, will retry")
				}
			}
		}
	}
}

// refreshState pulls the server's current parameter set into the local
// cache, the same call the Python client makes from __stage_state_watchdog_task.
func (c *Client) refreshState(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"parameter", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: parameter fetch failed with status %d", resp.StatusCode)
	}

	var params map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&params); err != nil {
		return err
	}

	c.stateMu.Lock()
	c.parameters = params
	c.stateMu.Unlock()
	return nil
}

func (c *Client) stateWatchdog() {
	defer c.wg.Done()
	ticker := time.NewTicker(stateWatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if err := c.refreshState(context.Background()); err != nil {
				c.log.Warn().Err(err).Msg("state refresh failed")
			}
		}
	}
}

// channelWatchdog owns the persistent channel: it connects, performs the
// §4.7 handshake, reads messages until the connection closes, then
// reconnects after reconnectDelay. Disconnect and reconnection are not
// errors worth bubbling up; the Python client treats them the same way.
func (c *Client) channelWatchdog() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		conn, err := c.dialAndHandshake()
		if err != nil {
			c.log.Warn().Err(err).Msg("persistent channel connect failed, retrying")
			if !c.sleepOrStop(reconnectDelay) {
				return
			}
			continue
		}

		c.wsMu.Lock()
		c.wsConn = conn
		c.wsMu.Unlock()

		c.readLoop(conn)

		conn.Close()
		c.wsMu.Lock()
		c.wsConn = nil
		c.wsMu.Unlock()

		select {
		case <-c.stop:
			return
		default:
		}
		if !c.sleepOrStop(reconnectDelay) {
			return
		}
	}
}

func (c *Client) sleepOrStop(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.stop:
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) dialAndHandshake() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(c.cfg.WSURL, nil)
	if err != nil {
		return nil, err
	}

	c.authMu.RLock()
	token := c.token
	c.authMu.RUnlock()

	if err := conn.WriteJSON(map[string]string{"token": token}); err != nil {
		conn.Close()
		return nil, err
	}
	var ack map[string]interface{}
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, err
	}
	if _, ok := ack["auth_result"]; !ok {
		conn.Close()
		return nil, errors.New("client: handshake did not return auth_result")
	}
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg map[string]interface{}) {
	if rawID, ok := msg["id"]; ok {
		id := toInt(rawID)
		c.pendingMu.Lock()
		ch, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- msg
			return
		}
	}
	if c.cfg.OnUpdate != nil {
		c.cfg.OnUpdate(msg)
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		i, _ := strconv.Atoi(n)
		return i
	default:
		return 0
	}
}

var ErrChannelUnavailable = errors.New("client: persistent channel not connected")

// SendCommand writes payload over the persistent channel, tagging it with
// a fresh command id, and waits (up to timeout) for the server's matching
// reply. A zero timeout returns immediately after sending, without
// waiting for a reply, mirroring websocket_command(timeout=None).
func (c *Client) SendCommand(payload map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	id := int(atomic.AddInt64(&c.nextCmdID, 1))
	payload["id"] = id

	c.wsMu.Lock()
	conn := c.wsConn
	c.wsMu.Unlock()
	if conn == nil {
		return nil, ErrChannelUnavailable
	}

	replyCh := make(chan map[string]interface{}, 1)
	c.pendingMu.Lock()
	c.pending[id] = replyCh
	c.pendingMu.Unlock()

	c.wsMu.Lock()
	err := conn.WriteJSON(payload)
	c.wsMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, err
	}

	if timeout <= 0 {
		return map[string]interface{}{"id": id}, nil
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-time.After(timeout):
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("client: command %d timed out waiting for reply", id)
	}
}

func drainAndClose(resp *http.Response) {
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
}
