package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/charliebot/internal/domain"
)

const (
	DefaultStreamURL = "wss://stream.bybit.com/realtime"
	TestnetStreamURL = "wss://stream-testnet.bybit.com/realtime"

	orderTopic = "order"

	defaultPingInterval = 20 * time.Second
	defaultReadTimeout  = 60 * time.Second
	handshakeTimeout    = 10 * time.Second
	authExpiry          = 10 * time.Second

	baseBackoff = 1 * time.Second
	maxBackoff  = 60 * time.Second

	// stableConnection is how long a connection must live before the
	// reconnect backoff starts over.
	stableConnection = time.Minute
)

// backoff returns baseBackoff·2^retry capped at maxBackoff.
func backoff(retry int) time.Duration {
	if retry < 0 {
		return baseBackoff
	}
	if retry > 30 {
		return maxBackoff
	}
	return min(baseBackoff*time.Duration(1<<retry), maxBackoff)
}

type feedEntry struct {
	order      domain.Order
	receivedAt time.Time
}

// Stream consumes the private order topic. It keeps the latest status per
// order ID and wakes placements waiting for their acknowledgement. It never
// takes trading decisions.
type Stream struct {
	url       string
	apiKey    string
	apiSecret string

	PingInterval time.Duration
	ReadTimeout  time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	latest  map[string]feedEntry
	waiters map[string][]chan domain.Order

	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewStream creates an order feed for the given realtime endpoint.
func NewStream(url, apiKey, apiSecret string) *Stream {
	if url == "" {
		url = DefaultStreamURL
	}
	return &Stream{
		url:          url,
		apiKey:       apiKey,
		apiSecret:    apiSecret,
		PingInterval: defaultPingInterval,
		ReadTimeout:  defaultReadTimeout,
		latest:       make(map[string]feedEntry),
		waiters:      make(map[string][]chan domain.Order),
		now:          time.Now,
	}
}

// Start runs the connection loop in its own goroutine.
func (s *Stream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.runLoop(ctx)
}

// Stop closes the connection and waits for the loop to exit.
func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.close()
	s.wg.Wait()
}

func (s *Stream) runLoop(ctx context.Context) {
	defer s.wg.Done()
	retry := 0

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.connect(ctx)
		if err != nil {
			delay := backoff(retry)
			slog.Warn("bybit: stream connection failed", "err", err, "retry", retry, "backoff", delay)
			retry++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		connectedAt := s.now()
		s.process(ctx, conn)

		// solo una conexión que aguantó se considera sana
		if s.now().Sub(connectedAt) >= stableConnection {
			retry = 0
		}
		delay := backoff(retry)
		retry++
		slog.Info("bybit: stream disconnected, reconnecting", "retry", retry, "backoff", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connect dials, authenticates and subscribes to the order topic.
func (s *Stream) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	expires := s.now().Add(authExpiry).UnixMilli()
	auth := wsRequest{Op: "auth", Args: []any{s.apiKey, expires, streamSignature(s.apiSecret, expires)}}
	if err := conn.WriteJSON(auth); err != nil {
		conn.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var resp wsMessage
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("auth response: %w", err)
	}
	if resp.Success == nil || !*resp.Success {
		conn.Close()
		return nil, fmt.Errorf("auth rejected: %s", resp.RetMsg)
	}

	if err := conn.WriteJSON(wsRequest{Op: "subscribe", Args: []any{orderTopic}}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	// tras una reconexión el estado previo puede haberse perdido
	s.latest = make(map[string]feedEntry)
	s.mu.Unlock()

	if s.PingInterval > 0 {
		go s.pingLoop(ctx, conn)
	}
	slog.Info("bybit: stream connected", "url", s.url)
	return conn, nil
}

func (s *Stream) process(ctx context.Context, conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("bybit: stream read error", "err", err)
			}
			s.close()
			return
		}
		s.handleMessage(msg)
	}
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			current := s.conn
			s.mu.Unlock()
			if current != conn {
				return
			}
			if err := s.write(conn, wsRequest{Op: "ping"}); err != nil {
				slog.Warn("bybit: stream ping failed", "err", err)
				s.close()
				return
			}
		}
	}
}

func (s *Stream) write(conn *websocket.Conn, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Stream) handleMessage(msg []byte) {
	var m wsMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		slog.Debug("bybit: stream undecodable message", "err", err)
		return
	}

	if m.Topic != orderTopic {
		if m.Success != nil && !*m.Success {
			slog.Warn("bybit: stream command failed", "ret_msg", m.RetMsg)
		}
		return
	}

	var raw []orderResult
	if err := json.Unmarshal(m.Data, &raw); err != nil {
		slog.Warn("bybit: stream bad order payload", "err", err)
		return
	}
	orders, err := toOrders(raw)
	if err != nil {
		slog.Warn("bybit: stream bad order", "err", err)
		return
	}
	s.apply(orders)
}

// apply records the updates and wakes the waiters of each order.
func (s *Stream) apply(orders []domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, o := range orders {
		s.latest[o.ID] = feedEntry{order: o, receivedAt: now}
		for _, ch := range s.waiters[o.ID] {
			select {
			case ch <- o:
			default:
			}
		}
	}
}

// Recent returns the latest update of each order received within window
// (all of them when window is 0).
func (s *Stream) Recent(window time.Duration) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	out := make([]domain.Order, 0, len(s.latest))
	for _, e := range s.latest {
		if window > 0 && e.receivedAt.Before(cutoff) {
			continue
		}
		out = append(out, e.order)
	}
	return out
}

// Await blocks until the feed reports an update of orderID satisfying done,
// or timeout elapses. ok is false on timeout or cancellation.
func (s *Stream) Await(ctx context.Context, orderID string, timeout time.Duration, done func(domain.Order) bool) (domain.Order, bool) {
	ch := make(chan domain.Order, 8)

	s.mu.Lock()
	if e, seen := s.latest[orderID]; seen && done(e.order) {
		s.mu.Unlock()
		return e.order, true
	}
	s.waiters[orderID] = append(s.waiters[orderID], ch)
	s.mu.Unlock()

	defer s.removeWaiter(orderID, ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case o := <-ch:
			if done(o) {
				return o, true
			}
		case <-timer.C:
			return domain.Order{}, false
		case <-ctx.Done():
			return domain.Order{}, false
		}
	}
}

func (s *Stream) removeWaiter(orderID string, ch chan domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.waiters[orderID]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.waiters, orderID)
		return
	}
	s.waiters[orderID] = list
}
