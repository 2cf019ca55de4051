package bybit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/charliebot/internal/adapters/bybit"
	"github.com/alejandrodnm/charliebot/internal/domain"
)

// fakeRealtime accepts auth and the order subscription, then pushes the
// given order payloads.
func fakeRealtime(t *testing.T, authOK bool, pushes ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var auth struct {
			Op   string `json:"op"`
			Args []any  `json:"args"`
		}
		if err := conn.ReadJSON(&auth); err != nil {
			return
		}
		assert.Equal(t, "auth", auth.Op)
		assert.Len(t, auth.Args, 3)

		if !authOK {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"success": false, "ret_msg": "invalid signature", "request": {"op": "auth"}}`))
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"success": true, "ret_msg": "", "request": {"op": "auth"}}`))

		var sub struct {
			Op   string   `json:"op"`
			Args []string `json:"args"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		assert.Equal(t, "subscribe", sub.Op)
		assert.Equal(t, []string{"order"}, sub.Args)

		for _, p := range pushes {
			conn.WriteMessage(websocket.TextMessage, []byte(p))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func orderPush(id, side, status string) string {
	return `{"topic": "order", "data": [{"order_id": "` + id + `", "order_link_id": "", "symbol": "BTCUSD",
		"side": "` + side + `", "order_type": "Limit", "price": "55600", "qty": 2,
		"time_in_force": "PostOnly", "order_status": "` + status + `"}]}`
}

func TestStream_AwaitsOrderUpdates(t *testing.T) {
	srv := fakeRealtime(t, true,
		orderPush("abc", "Buy", "New"),
		orderPush("def", "Sell", "New"),
		orderPush("def", "Sell", "Filled"),
	)

	stream := bybit.NewStream(wsURL(srv), "key", "secret")
	stream.Start(context.Background())
	defer stream.Stop()

	o, ok := stream.Await(context.Background(), "abc", 5*time.Second, func(o domain.Order) bool {
		return o.Status == domain.StatusNew
	})
	require.True(t, ok)
	assert.Equal(t, domain.SideLong, o.Side)
	assert.Equal(t, 55600.0, o.Price)
	assert.Equal(t, 2, o.Quantity)

	_, ok = stream.Await(context.Background(), "def", 5*time.Second, func(o domain.Order) bool {
		return o.Status == domain.StatusFilled
	})
	require.True(t, ok)

	book := domain.MergeFeedback(domain.NewOrderBook(), stream.Recent(0))
	assert.Len(t, book.Longs, 1)
	assert.Empty(t, book.Shorts, "filled orders leave the book")
}

func TestStream_AwaitTimesOut(t *testing.T) {
	srv := fakeRealtime(t, true)
	stream := bybit.NewStream(wsURL(srv), "key", "secret")
	stream.Start(context.Background())
	defer stream.Stop()

	_, ok := stream.Await(context.Background(), "missing", 50*time.Millisecond, func(domain.Order) bool { return true })
	assert.False(t, ok)
}

func TestStream_AuthRejectedKeepsRetrying(t *testing.T) {
	srv := fakeRealtime(t, false, orderPush("abc", "Buy", "New"))
	stream := bybit.NewStream(wsURL(srv), "key", "bad")
	stream.Start(context.Background())

	_, ok := stream.Await(context.Background(), "abc", 100*time.Millisecond, func(domain.Order) bool { return true })
	assert.False(t, ok)
	stream.Stop()
}

func TestStream_DroppedAfterAuthBacksOff(t *testing.T) {
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		dials.Add(1)

		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"success": true, "ret_msg": "", "request": {"op": "auth"}}`))
		conn.ReadJSON(&req) // subscribe, then drop the socket
	}))
	t.Cleanup(srv.Close)

	stream := bybit.NewStream(wsURL(srv), "key", "secret")
	stream.Start(context.Background())
	time.Sleep(1500 * time.Millisecond)
	stream.Stop()

	n := dials.Load()
	assert.GreaterOrEqual(t, n, int32(1))
	assert.LessOrEqual(t, n, int32(3), "reconnects wait 1s, 2s, 4s...")
}

func TestExchange_FeedCancelledPostOnlyFails(t *testing.T) {
	ws := fakeRealtime(t, true, orderPush("abc", "Buy", "Cancelled"))
	rest := serve(t, map[string]string{
		"/v2/private/order/create": `{"ret_code": 0, "result": {"order_id": "abc", "side": "Buy", "price": 55600, "qty": 2, "order_status": "Created"}}`,
	})

	stream := bybit.NewStream(wsURL(ws), "key", "secret")
	stream.Start(context.Background())
	defer stream.Stop()

	client := bybit.NewClient(bybit.ClientConfig{BaseURL: rest.URL, APIKey: "key", APISecret: "secret"})
	ex := bybit.NewExchange(client, stream, 5*time.Second)

	_, err := ex.Long(context.Background(), 55600, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderFailed)
}

func TestExchange_OrdersFoldsFeedOverSnapshot(t *testing.T) {
	ws := fakeRealtime(t, true, orderPush("d0aa620e-bcbd-41c6-9315-f1be7570bfe3", "Buy", "Filled"))
	rest := serve(t, map[string]string{"/v2/private/order/list": ordersFixture})

	stream := bybit.NewStream(wsURL(ws), "key", "secret")
	stream.Start(context.Background())
	defer stream.Stop()

	_, ok := stream.Await(context.Background(), "d0aa620e-bcbd-41c6-9315-f1be7570bfe3", 5*time.Second,
		func(o domain.Order) bool { return o.Status == domain.StatusFilled })
	require.True(t, ok)

	client := bybit.NewClient(bybit.ClientConfig{BaseURL: rest.URL, APIKey: "key", APISecret: "secret"})
	book, err := bybit.NewExchange(client, stream, time.Second).Orders(context.Background())
	require.NoError(t, err)
	assert.Len(t, book.Longs, 1, "the fill seen on the feed removes the snapshot's order")
	assert.Len(t, book.Shorts, 2)
}
