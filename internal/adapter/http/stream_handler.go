package http

import (
	"io"

	"github.com/delelinus/orderledger/internal/feed"
	"github.com/delelinus/orderledger/internal/logging"
	"github.com/gin-gonic/gin"
)

type StreamHandler struct {
	feed *feed.Feed
}

func NewStreamHandler(f *feed.Feed) *StreamHandler {
	return &StreamHandler{feed: f}
}

// StreamOrders serves the change feed as server-sent events. The subscription
// is positioned at "now"; a client that cannot keep up receives a final
// "overrun" event and must reconnect.
func (h *StreamHandler) StreamOrders(c *gin.Context) {
	sub := h.feed.Subscribe()
	defer h.feed.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	logging.From(c).Info("feed subscriber connected")
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Err() != nil {
					c.SSEvent("overrun", gin.H{"error": "feed_overrun"})
				}
				return false
			}
			c.SSEvent("order", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
