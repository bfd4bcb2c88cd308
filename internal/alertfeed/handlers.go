package alertfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fraudwatch/internal/flags"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// alertRecord is the wire shape of one delivered flag.
type alertRecord struct {
	ID          int64     `json:"id"`
	TxnID       string    `json:"txn_id"`
	Score       float64   `json:"score"`
	ReasonsJSON string    `json:"reasons_json"`
	Timestamp   time.Time `json:"timestamp"`
}

func toRecord(flag *flags.FraudFlag) alertRecord {
	reasons, _ := json.Marshal(flag.Reasons)
	return alertRecord{
		ID:          flag.ID,
		TxnID:       flag.TxnID,
		Score:       flag.Score,
		ReasonsJSON: string(reasons),
		Timestamp:   flag.Timestamp,
	}
}

// Handler exposes the feed over SSE and WebSocket.
type Handler struct {
	feed   *Feed
	logger *slog.Logger
}

// NewHandler creates HTTP handlers for the feed.
func NewHandler(feed *Feed, logger *slog.Logger) *Handler {
	return &Handler{feed: feed, logger: logger}
}

// StreamSSE serves GET /alerts/stream: a long-lived server-sent event
// stream, one event per flag. No inactivity timeout and no close message;
// the stream ends only on client disconnect or a feed error.
func (h *Handler) StreamSSE(c *gin.Context) {
	sub, err := h.feed.Subscribe(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "feed_unavailable"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.Flush()

	for {
		select {
		case flag, ok := <-sub.Flags():
			if !ok {
				if err := sub.Err(); err != nil {
					h.logger.Warn("alert stream closed on error", "error", err)
				}
				return
			}
			c.SSEvent("alert", toRecord(flag))
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}

// StreamWebSocket serves GET /alerts/ws: the same flag records over a
// WebSocket, one text message per flag.
func (h *Handler) StreamWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	sub, err := h.feed.Subscribe(ctx)
	if err != nil {
		cancel()
		_ = conn.Close()
		return
	}

	// Read pump: discard inbound frames, detect disconnect.
	go func() {
		defer cancel()
		conn.SetReadLimit(4 * 1024)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, normalCloseCodes...) {
					h.logger.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	h.writePump(conn, sub, cancel)
}

func (h *Handler) writePump(conn *websocket.Conn, sub *Subscription, cancel context.CancelFunc) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		cancel()
		_ = conn.Close()
	}()

	for {
		select {
		case flag, ok := <-sub.Flags():
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, _ := json.Marshal(toRecord(flag))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Warn("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
