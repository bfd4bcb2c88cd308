package alertfeed

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudwatch/internal/flags"
)

func newStreamServer(t *testing.T, store *flags.MemoryStore) (*httptest.Server, *Feed) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	feed := New(store, testLogger()).WithInterval(10 * time.Millisecond)
	handler := NewHandler(feed, testLogger())

	r := gin.New()
	r.GET("/alerts/stream", handler.StreamSSE)
	r.GET("/alerts/ws", handler.StreamWebSocket)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, feed
}

func TestStreamSSE_DeliversNewFlags(t *testing.T) {
	store := flags.NewMemoryStore()
	insertFlags(t, store, 2) // history, must not be replayed
	srv, _ := newStreamServer(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/alerts/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the subscription time to take its initial cursor, then insert
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, store.CreateFlag(context.Background(), &flags.FraudFlag{
		TxnID:     "txn-live",
		Score:     0.91,
		LabelPred: true,
	}))

	scanner := bufio.NewScanner(resp.Body)
	var record alertRecord
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &record))
		break
	}

	assert.Equal(t, int64(3), record.ID, "history ids 1-2 must not be replayed")
	assert.Equal(t, "txn-live", record.TxnID)
	assert.Equal(t, 0.91, record.Score)
	assert.Contains(t, record.ReasonsJSON, "ml_score")
}

func TestStreamWebSocket_DeliversNewFlags(t *testing.T) {
	store := flags.NewMemoryStore()
	srv, _ := newStreamServer(t, store)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/alerts/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, store.CreateFlag(context.Background(), &flags.FraudFlag{
		TxnID:     "txn-ws",
		Score:     0.77,
		LabelPred: true,
	}))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var record alertRecord
	require.NoError(t, json.Unmarshal(payload, &record))
	assert.Equal(t, "txn-ws", record.TxnID)
	assert.Equal(t, 0.77, record.Score)
}
