package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Raas21/delay-prediction-api/services"
)

const (
	liveWriteWait  = 10 * time.Second
	livePingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LiveFeed relays payloads published on a channel.
type LiveFeed interface {
	Listen(ctx context.Context, channel string) (<-chan string, error)
}

type liveMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// LiveWebSocket streams every accepted vehicle position to the client. When
// authService is enabled a ?token= query parameter is required.
func LiveWebSocket(feed LiveFeed, channel string, authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authService != nil && authService.Enabled() {
			if _, err := authService.Authorize(c.Query("token"), services.RoleViewer); err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": "unauthorized"})
				return
			}
		}

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		messages, err := feed.Listen(ctx, channel)
		if err != nil {
			logrus.WithError(err).WithField("channel", channel).Error("live feed unavailable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live feed unavailable", "code": "feed_unavailable"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logrus.WithError(err).Warn("websocket upgrade failed")
			return
		}
		defer conn.Close()

		// Clients never send; reading only surfaces the close.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		relayLive(ctx, conn, messages)
	}
}

func relayLive(ctx context.Context, conn *websocket.Conn, messages <-chan string) {
	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if !json.Valid([]byte(msg)) {
				logrus.WithField("payload", msg).Debug("skipping non-JSON live payload")
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(liveMessage{Type: "vehicle_position", Data: json.RawMessage(msg)}); err != nil {
				logrus.WithError(err).Debug("live websocket write failed")
				return
			}
		}
	}
}
