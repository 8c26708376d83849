package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/unkuseni/rs-smm-v2/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams book tops, trades and order updates to one client. The
// bus drops messages to slow consumers, so a stalled client cannot back up
// the feed.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warning("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	tops, unsubTops := s.Bus.Subscribe(events.TopicBookTop, 100)
	defer unsubTops()
	trades, unsubTrades := s.Bus.Subscribe(events.TopicTrade, 100)
	defer unsubTrades()
	orders, unsubOrders := s.Bus.Subscribe(events.TopicOrder, 100)
	defer unsubOrders()

	done := c.Request.Context().Done()
	for {
		var (
			topic   events.Topic
			payload any
			ok      bool
		)
		select {
		case <-done:
			return
		case payload, ok = <-tops:
			topic = events.TopicBookTop
		case payload, ok = <-trades:
			topic = events.TopicTrade
		case payload, ok = <-orders:
			topic = events.TopicOrder
		}
		if !ok {
			return
		}
		msg := gin.H{"topic": topic, "data": payload}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
