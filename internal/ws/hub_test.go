package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aparajitverma/TheExportExpress-sub004/internal/relay"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type wireEvent struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func startRelay(t *testing.T, opts Options) (*relay.Relay, *Handler, string) {
	t.Helper()
	r := relay.New(relay.NewRegistry(2), zap.NewNop(), relay.Options{SendBuffer: 64})
	h := NewHandler(r, zap.NewNop(), opts)
	ts := httptest.NewServer(h)
	t.Cleanup(func() {
		r.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Wait(ctx)
		ts.Close()
	})
	return r, h, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitForConnections(t *testing.T, r *relay.Relay, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Registry().Len() == n }, 2*time.Second, 5*time.Millisecond)
}

func readEvent(t *testing.T, c *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wireEvent
	require.NoError(t, c.ReadJSON(&ev))
	return ev
}

func TestPriceUpdateReachesPeerAndEchoesToSender(t *testing.T) {
	r, _, url := startRelay(t, DefaultOptions())
	a := dial(t, url)
	b := dial(t, url)
	waitForConnections(t, r, 2)

	msg := `{"kind":"price_update","payload":{"sku":"X","price":10}}`
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(msg)))

	got := readEvent(t, b)
	assert.Equal(t, "price_update", got.Kind)
	assert.JSONEq(t, `{"sku":"X","price":10}`, string(got.Payload))

	echo := readEvent(t, a)
	assert.Equal(t, "price_update", echo.Kind)
	assert.JSONEq(t, `{"sku":"X","price":10}`, string(echo.Payload))
}

func TestEventsArriveInPublishOrder(t *testing.T) {
	r, _, url := startRelay(t, DefaultOptions())
	a := dial(t, url)
	b := dial(t, url)
	waitForConnections(t, r, 2)

	kinds := []string{"price_update", "market_alert", "order_status_update", "arbitrage_opportunity", "price_update"}
	for i, k := range kinds {
		msg, err := json.Marshal(map[string]any{"kind": k, "payload": map[string]int{"seq": i}})
		require.NoError(t, err)
		require.NoError(t, a.WriteMessage(websocket.TextMessage, msg))
	}

	for i, k := range kinds {
		got := readEvent(t, b)
		assert.Equal(t, k, got.Kind)
		assert.JSONEq(t, `{"seq":`+strconv.Itoa(i)+`}`, string(got.Payload))
	}
}

func TestMalformedEventIsDroppedAndSenderStaysConnected(t *testing.T) {
	r, _, url := startRelay(t, DefaultOptions())
	a := dial(t, url)
	b := dial(t, url)
	waitForConnections(t, r, 2)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"kind":"inventory_sync","payload":{}}`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"payload":{}}`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"kind":"market_alert","payload":{"level":"high"}}`)))

	got := readEvent(t, b)
	assert.Equal(t, "market_alert", got.Kind)
	assert.Equal(t, 2, r.Registry().Len())
}

func TestLateJoinerGetsNoBacklog(t *testing.T) {
	r, _, url := startRelay(t, DefaultOptions())
	a := dial(t, url)
	waitForConnections(t, r, 1)

	for _, k := range []string{"price_update", "order_status_update", "market_alert"} {
		require.NoError(t, a.WriteJSON(map[string]any{"kind": k, "payload": map[string]string{}}))
	}
	for i := 0; i < 3; i++ {
		readEvent(t, a)
	}

	b := dial(t, url)
	waitForConnections(t, r, 2)
	require.NoError(t, a.WriteJSON(map[string]any{"kind": "arbitrage_opportunity", "payload": map[string]string{"marker": "first"}}))

	got := readEvent(t, b)
	assert.Equal(t, "arbitrage_opportunity", got.Kind)
	assert.JSONEq(t, `{"marker":"first"}`, string(got.Payload))
}

func TestClientCloseUnregisters(t *testing.T) {
	r, _, url := startRelay(t, DefaultOptions())
	a := dial(t, url)
	b := dial(t, url)
	waitForConnections(t, r, 2)

	require.NoError(t, b.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	b.Close()
	waitForConnections(t, r, 1)

	d := r.Publish(relay.NewEvent(relay.KindMarketAlert, []byte(`{}`)), "")
	assert.Equal(t, 1, d.Attempted)
	assert.Equal(t, "market_alert", readEvent(t, a).Kind)
}

func TestInternalProducerPublish(t *testing.T) {
	r, _, url := startRelay(t, DefaultOptions())
	a := dial(t, url)
	waitForConnections(t, r, 1)

	r.Publish(relay.NewEvent(relay.KindOrderStatusUpdate, []byte(`{"order_id":"order_001","status":"shipped"}`)), "")

	got := readEvent(t, a)
	assert.Equal(t, "order_status_update", got.Kind)
	assert.JSONEq(t, `{"order_id":"order_001","status":"shipped"}`, string(got.Payload))
}

func TestRelayCloseSendsCloseFrameAndPumpsExit(t *testing.T) {
	r, h, url := startRelay(t, DefaultOptions())
	a := dial(t, url)
	waitForConnections(t, r, 1)

	r.Close()

	require.NoError(t, a.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := a.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, h.Wait(ctx))
}

func TestOriginPolicy(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowedOrigins = []string{"https://exportexpress.io"}
	_, _, url := startRelay(t, opts)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://exportexpress.io")
	c, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	c.Close()
}

func TestAnyOriginByDefault(t *testing.T) {
	_, _, url := startRelay(t, DefaultOptions())

	header := http.Header{"Origin": []string{"https://anywhere.example"}}
	c, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	c.Close()
}

func TestDialAfterRelayCloseIsRejected(t *testing.T) {
	r, _, url := startRelay(t, DefaultOptions())
	r.Close()

	c := dial(t, url)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, r.Registry().Len())
}

func TestDialAfterWaitIsUnavailable(t *testing.T) {
	r, h, url := startRelay(t, DefaultOptions())
	a := dial(t, url)
	waitForConnections(t, r, 1)

	r.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
	a.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, 0, r.Registry().Len())
}
