// Package sse streams game announcements to browsers and bots as
// server-sent events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/beastiary/cache"
	"github.com/kasuganosora/beastiary/game/encounter"
	"github.com/kasuganosora/beastiary/game/reset"
	"go.uber.org/zap"
)

// DefaultKeepalive is the interval between keepalive comments.
const DefaultKeepalive = 30 * time.Second

// events maps pub/sub channels to SSE event names.
var events = map[string]string{
	reset.Channel:     "reset",
	encounter.Channel: "encounter",
}

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pubsub: pubsub, keepalive: DefaultKeepalive, logger: logger}
}

// ServeSSE handles GET /api/events[?guild=<id>].
// Reset announcements go to every client. Encounter spawns are filtered to
// the requested guild when one is given.
func (h *Handler) ServeSSE(c *gin.Context) {
	guild := c.Query("guild")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	msgCh, unsub, err := h.pubsub.Subscribe(ctx, reset.Channel, encounter.Channel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if guild != "" && msg.Channel == encounter.Channel && !forGuild(msg.Payload, guild) {
				continue
			}
			name, ok := events[msg.Channel]
			if !ok {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", name, msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-ctx.Done():
			return
		}
	}
}

func forGuild(payload, guild string) bool {
	var ann encounter.Announcement
	if err := json.Unmarshal([]byte(payload), &ann); err != nil {
		return false
	}
	return ann.GuildID == guild
}
