package skillswap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
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
// Channel events
// ============================================================================

// ChatChannel returns the live-update channel name of a chat.
func ChatChannel(chatID string) string {
	return "chat-" + chatID
}

// ChannelEvent is one notification received on a chat channel. The payload
// is kept opaque: a notification only means "something changed".
type ChannelEvent struct {
	Channel string          `json:"channel"`
	Type    string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// controlEvents are stream housekeeping events, not change notifications.
var controlEvents = map[string]bool{
	"stream-open":  true,
	"stream-reset": true,
	"stream-error": true,
	"keep-alive":   true,
}

// IsRefresh reports whether the event should trigger a reload.
func (e ChannelEvent) IsRefresh() bool {
	return !controlEvents[e.Type]
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures chat channel subscribers.
type RealtimeConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	// HeartbeatInterval is the WebSocket ping period.
	HeartbeatInterval time.Duration
	// StaleTimeout closes an SSE stream that has been silent this long.
	StaleTimeout time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.StaleTimeout == 0 {
		c.StaleTimeout = 45 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ChatSubscriber delivers refresh cues for one chat channel.
type ChatSubscriber interface {
	Channel() string
	State() RealtimeState
	OnRefresh(h func(chatID string))
	Connect(ctx context.Context) error
	Close() error
}

// ============================================================================
// Event Dispatcher
// ============================================================================

type eventDispatcher struct {
	mu             sync.RWMutex
	onEvent        []func(ChannelEvent)
	onRefresh      []func(string)
	onConnected    []func()
	onDisconnected []func(string)
	onReconnecting []func(int, time.Duration)
}

func (d *eventDispatcher) dispatch(chatID string, ev ChannelEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, h := range d.onEvent {
		go h(ev)
	}
	if !ev.IsRefresh() {
		return
	}
	for _, h := range d.onRefresh {
		go h(chatID)
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (d *eventDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		go h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts < 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay grows exponentially with jitter. A connection that stayed up for
// a minute starts the sequence over.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Shared subscriber state
// ============================================================================

type subscriber struct {
	chatID       string
	endpoint     string
	header       func() http.Header
	unauthorized func()
	config       *RealtimeConfig
	dispatcher   *eventDispatcher
	recon        *reconnector

	mu               sync.Mutex
	state            RealtimeState
	intentionalClose bool
	parent           context.Context
	cancelFn         context.CancelFunc
}

func newSubscriber(chatID, endpoint string, header func() http.Header, config *RealtimeConfig) *subscriber {
	cfg := RealtimeConfig{AutoReconnect: true}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &subscriber{
		chatID:     chatID,
		endpoint:   endpoint,
		header:     header,
		config:     &cfg,
		dispatcher: &eventDispatcher{},
		recon:      newReconnector(&cfg),
		state:      StateDisconnected,
	}
}

// Channel returns the channel name, chat-<id>.
func (s *subscriber) Channel() string { return ChatChannel(s.chatID) }

// ChatID returns the id of the watched chat.
func (s *subscriber) ChatID() string { return s.chatID }

// State returns the current connection state.
func (s *subscriber) State() RealtimeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *subscriber) setState(state RealtimeState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// OnRefresh registers a handler called with the chat id for every change
// notification.
func (s *subscriber) OnRefresh(h func(chatID string)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onRefresh = append(s.dispatcher.onRefresh, h)
	s.dispatcher.mu.Unlock()
}

// OnEvent registers a handler for every raw event, control events included.
func (s *subscriber) OnEvent(h func(ChannelEvent)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onEvent = append(s.dispatcher.onEvent, h)
	s.dispatcher.mu.Unlock()
}

func (s *subscriber) OnConnected(h func()) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onConnected = append(s.dispatcher.onConnected, h)
	s.dispatcher.mu.Unlock()
}

func (s *subscriber) OnDisconnected(h func(reason string)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onDisconnected = append(s.dispatcher.onDisconnected, h)
	s.dispatcher.mu.Unlock()
}

func (s *subscriber) OnReconnecting(h func(attempt int, delay time.Duration)) {
	s.dispatcher.mu.Lock()
	s.dispatcher.onReconnecting = append(s.dispatcher.onReconnecting, h)
	s.dispatcher.mu.Unlock()
}

// begin moves to connecting. It returns false when already connected.
func (s *subscriber) begin(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnected || s.state == StateConnecting {
		return false
	}
	s.state = StateConnecting
	s.intentionalClose = false
	s.parent = ctx
	return true
}

// established records a live connection and returns the context bound to
// it. Cancelling the context tears down that connection only.
func (s *subscriber) established() (context.Context, context.CancelFunc) {
	s.mu.Lock()
	connCtx, cancel := context.WithCancel(s.parent)
	s.cancelFn = cancel
	s.state = StateConnected
	s.mu.Unlock()
	s.recon.markConnected()
	s.dispatcher.emitConnected()
	return connCtx, cancel
}

// shutdown marks an intentional close and cancels the live connection.
func (s *subscriber) shutdown() {
	s.mu.Lock()
	s.intentionalClose = true
	if s.cancelFn != nil {
		s.cancelFn()
		s.cancelFn = nil
	}
	s.state = StateDisconnected
	s.mu.Unlock()
}

// lost handles an unexpected end of stream and reports whether to reconnect.
func (s *subscriber) lost(reason string) bool {
	s.mu.Lock()
	if s.intentionalClose {
		s.mu.Unlock()
		return false
	}
	s.state = StateDisconnected
	parent := s.parent
	s.mu.Unlock()

	s.config.Logger.Warn("chat channel lost", "channel", s.Channel(), "reason", reason)
	s.dispatcher.emitDisconnected(reason)
	return s.config.AutoReconnect && parent.Err() == nil && s.recon.shouldReconnect()
}

// scheduleReconnect waits out the backoff and calls connect until it
// succeeds, attempts run out, or the parent context ends.
func (s *subscriber) scheduleReconnect(connect func(context.Context) error) {
	for {
		s.mu.Lock()
		parent := s.parent
		s.mu.Unlock()

		delay := s.recon.nextDelay()
		s.setState(StateReconnecting)
		s.dispatcher.emitReconnecting(s.recon.attempt, delay)

		select {
		case <-parent.Done():
			s.setState(StateDisconnected)
			return
		case <-time.After(delay):
		}

		s.mu.Lock()
		if s.intentionalClose {
			s.mu.Unlock()
			return
		}
		s.state = StateDisconnected
		s.mu.Unlock()

		err := connect(parent)
		if err == nil {
			return
		}
		s.config.Logger.Warn("chat channel reconnect failed", "channel", s.Channel(), "error", err)
		if IsUnauthorized(err) || !s.config.AutoReconnect || !s.recon.shouldReconnect() {
			s.setState(StateDisconnected)
			return
		}
	}
}

// rejected builds the error for a refused handshake. A 401 runs the
// unauthorized handling first.
func (s *subscriber) rejected(status int) error {
	if status == http.StatusUnauthorized && s.unauthorized != nil {
		s.unauthorized()
	}
	return statusError(status, nil)
}

func (s *subscriber) requestHeader() http.Header {
	if s.header == nil {
		return http.Header{}
	}
	return s.header()
}

// ============================================================================
// SSESubscriber
// ============================================================================

// SSESubscriber listens to a chat channel over server-sent events with
// auto-reconnect and a silence watchdog.
type SSESubscriber struct {
	*subscriber

	lastMu       sync.Mutex
	lastDataTime time.Time
}

// Connect opens the event stream.
func (sse *SSESubscriber) Connect(ctx context.Context) error {
	if !sse.begin(ctx) {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sse.endpoint, nil)
	if err != nil {
		sse.setState(StateDisconnected)
		return fmt.Errorf("create request: %w", err)
	}
	req.Header = sse.requestHeader()
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := sse.config.HTTPClient.Do(req)
	if err != nil {
		sse.setState(StateDisconnected)
		return fmt.Errorf("SSE connect: %w", networkError(err))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		sse.setState(StateDisconnected)
		return fmt.Errorf("SSE connect: %w", sse.rejected(resp.StatusCode))
	}

	sse.touch()
	connCtx, cancel := sse.established()

	go sse.readLoop(connCtx, cancel, resp)
	go sse.watchdog(connCtx, cancel)
	return nil
}

// Close ends the subscription.
func (sse *SSESubscriber) Close() error {
	sse.shutdown()
	sse.dispatcher.emitDisconnected("client disconnect")
	return nil
}

func (sse *SSESubscriber) touch() {
	sse.lastMu.Lock()
	sse.lastDataTime = time.Now()
	sse.lastMu.Unlock()
}

func (sse *SSESubscriber) readLoop(ctx context.Context, cancel context.CancelFunc, resp *http.Response) {
	body := resp.Body
	go func() {
		<-ctx.Done()
		body.Close()
	}()

	var (
		eventType string
		data      []string
	)
	flush := func() {
		if eventType == "" && len(data) == 0 {
			return
		}
		ev := ChannelEvent{Channel: sse.Channel(), Type: eventType}
		if ev.Type == "" {
			ev.Type = "message"
		}
		if len(data) > 0 {
			joined := strings.Join(data, "\n")
			if json.Valid([]byte(joined)) {
				ev.Data = json.RawMessage(joined)
			} else if b, err := json.Marshal(joined); err == nil {
				ev.Data = b
			}
		}
		sse.dispatcher.dispatch(sse.chatID, ev)
		eventType, data = "", nil
	}

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		sse.touch()
		line := scanner.Text()

		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, ":"):
			// comment / heartbeat
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			v := strings.TrimPrefix(line, "data:")
			data = append(data, strings.TrimPrefix(v, " "))
		}
	}
	flush()
	cancel()

	reason := "stream ended"
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		reason = err.Error()
	}
	if sse.lost(reason) {
		sse.scheduleReconnect(sse.Connect)
	}
}

func (sse *SSESubscriber) watchdog(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(sse.config.StaleTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sse.lastMu.Lock()
			stale := time.Since(sse.lastDataTime) > sse.config.StaleTimeout
			sse.lastMu.Unlock()
			if stale {
				cancel()
				return
			}
		}
	}
}

// ============================================================================
// WSSubscriber
// ============================================================================

// WSSubscriber listens to a chat channel over a WebSocket with
// auto-reconnect and heartbeat pings. Each text frame is one notification,
// either a {"event","data"} object or an opaque payload.
type WSSubscriber struct {
	*subscriber

	connMu sync.Mutex
	conn   *websocket.Conn
}

// Connect dials the WebSocket endpoint.
func (ws *WSSubscriber) Connect(ctx context.Context) error {
	if !ws.begin(ctx) {
		return nil
	}

	conn, resp, err := websocket.Dial(ctx, ws.endpoint, &websocket.DialOptions{
		HTTPClient: ws.config.HTTPClient,
		HTTPHeader: ws.requestHeader(),
	})
	if err != nil {
		ws.setState(StateDisconnected)
		if resp != nil && resp.StatusCode >= 400 {
			return fmt.Errorf("websocket dial: %w", ws.rejected(resp.StatusCode))
		}
		return fmt.Errorf("websocket dial: %w", err)
	}

	ws.connMu.Lock()
	ws.conn = conn
	ws.connMu.Unlock()

	connCtx, cancel := ws.established()
	go ws.readLoop(connCtx, cancel, conn)
	go ws.heartbeatLoop(connCtx, conn)
	return nil
}

// Close ends the subscription.
//
// The close handshake runs before the connection context is cancelled, since
// cancelling a pending read tears the socket down without a close frame.
func (ws *WSSubscriber) Close() error {
	ws.mu.Lock()
	ws.intentionalClose = true
	ws.mu.Unlock()

	ws.connMu.Lock()
	conn := ws.conn
	ws.conn = nil
	ws.connMu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	ws.shutdown()
	ws.dispatcher.emitDisconnected("client disconnect")
	return err
}

func (ws *WSSubscriber) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			cancel()
			ws.connMu.Lock()
			if ws.conn == conn {
				ws.conn = nil
			}
			ws.connMu.Unlock()

			if ws.lost(err.Error()) {
				ws.scheduleReconnect(ws.Connect)
			}
			return
		}

		ev := ChannelEvent{Channel: ws.Channel(), Type: "message"}
		var framed struct {
			Event string          `json:"event"`
			Type  string          `json:"type"`
			Data  json.RawMessage `json:"data"`
		}
		if json.Unmarshal(data, &framed) == nil && (framed.Event != "" || framed.Data != nil) {
			if framed.Event != "" {
				ev.Type = framed.Event
			}
			ev.Data = framed.Data
		} else if json.Valid(data) {
			ev.Data = json.RawMessage(data)
		}
		ws.dispatcher.dispatch(ws.chatID, ev)
	}
}

func (ws *WSSubscriber) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(ws.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, ws.config.HeartbeatInterval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient builds chat channel subscribers that authenticate with the
// client's current credentials.
type RealtimeClient struct{ client *Client }

// SSEUrl returns the event stream URL of a chat channel.
func (r *RealtimeClient) SSEUrl(chatID string) string {
	return r.client.baseURL + "/events/?channel=" + url.QueryEscape(ChatChannel(chatID))
}

// WSUrl returns the WebSocket URL of a chat channel.
func (r *RealtimeClient) WSUrl(chatID string) string {
	base := strings.Replace(r.client.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/events/ws/?channel=" + url.QueryEscape(ChatChannel(chatID))
}

// SSE creates an SSE subscriber for a chat. Call Connect to start it.
func (r *RealtimeClient) SSE(chatID string, config *RealtimeConfig) *SSESubscriber {
	return &SSESubscriber{subscriber: r.newSubscriber(chatID, r.SSEUrl(chatID), config)}
}

// WS creates a WebSocket subscriber for a chat. Call Connect to start it.
func (r *RealtimeClient) WS(chatID string, config *RealtimeConfig) *WSSubscriber {
	return &WSSubscriber{subscriber: r.newSubscriber(chatID, r.WSUrl(chatID), config)}
}

func (r *RealtimeClient) newSubscriber(chatID, endpoint string, config *RealtimeConfig) *subscriber {
	s := newSubscriber(chatID, endpoint, r.authHeader, r.withLogger(config))
	s.unauthorized = r.client.handleUnauthorized
	return s
}

func (r *RealtimeClient) withLogger(config *RealtimeConfig) *RealtimeConfig {
	cfg := RealtimeConfig{AutoReconnect: true}
	if config != nil {
		cfg = *config
	}
	if cfg.Logger == nil {
		cfg.Logger = r.client.logger
	}
	return &cfg
}

func (r *RealtimeClient) authHeader() http.Header {
	h := http.Header{}
	h.Set("User-Agent", r.client.userAgent)
	if username, password, ok := r.client.Credentials(); ok {
		req := &http.Request{Header: h}
		req.SetBasicAuth(username, password)
	}
	return h
}
