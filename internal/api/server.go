// Package api exposes the connector's state over HTTP: book views with
// derived metrics, order entry and a websocket event stream.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unkuseni/rs-smm-v2/internal/book"
	"github.com/unkuseni/rs-smm-v2/internal/events"
	"github.com/unkuseni/rs-smm-v2/internal/feed"
	"github.com/unkuseni/rs-smm-v2/internal/gateway"
	"github.com/unkuseni/rs-smm-v2/internal/logging"
	"github.com/unkuseni/rs-smm-v2/pkg/cache"
	"github.com/unkuseni/rs-smm-v2/pkg/db"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

// Meta describes runtime status exposed on /health.
type Meta struct {
	Venue   string
	Symbols []string
	Version string
}

// Server wires HTTP endpoints around the feed engine and the gateway.
type Server struct {
	Router    *gin.Engine
	Feed      *feed.Engine
	Gateway   *gateway.Gateway
	Store     *db.Store
	Bus       *events.Bus
	Quotes    *cache.QuoteCache
	JWTSecret string
	Meta      Meta
	log       *logging.Logger
}

// NewServer builds the router. Protected routes sit under /api.
func NewServer(fd *feed.Engine, gw *gateway.Gateway, store *db.Store, bus *events.Bus, quotes *cache.QuoteCache, jwtSecret string, meta Meta, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Discard()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		Router:    r,
		Feed:      fd,
		Gateway:   gw,
		Store:     store,
		Bus:       bus,
		Quotes:    quotes,
		JWTSecret: jwtSecret,
		Meta:      meta,
		log:       log.With("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api", AuthMiddleware(s.JWTSecret))
	{
		api.GET("/books/:symbol", s.getBook)
		api.GET("/orders", s.getOrders)
		api.POST("/orders", s.placeOrder)
		api.DELETE("/orders/:clientID", s.cancelOrder)
	}
}

func (s *Server) health(c *gin.Context) {
	books := gin.H{}
	if s.Feed != nil {
		for _, sym := range s.Feed.Symbols() {
			if b, ok := s.Feed.Book(sym); ok {
				books[sym] = b.State().String()
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"venue":   s.Meta.Venue,
		"symbols": s.Meta.Symbols,
		"version": s.Meta.Version,
		"books":   books,
		"time":    time.Now().UnixMilli(),
	})
}

type levelView struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

func toView(levels []book.Level) []levelView {
	out := make([]levelView, len(levels))
	for i, l := range levels {
		out[i] = levelView{Price: l.Price, Qty: l.Qty}
	}
	return out
}

func (s *Server) getBook(c *gin.Context) {
	symbol := c.Param("symbol")
	b, ok := s.Feed.Book(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "symbol not subscribed"})
		return
	}

	bids, asks, err := b.Depth(10)
	if err != nil {
		if errors.Is(err, book.ErrNotSynced) || errors.Is(err, book.ErrClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "book not available", "state": b.State().String()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	metrics := gin.H{}
	if mid, err := b.MidPrice(); err == nil {
		metrics["mid"] = mid
	}
	if spread, err := b.Spread(); err == nil {
		metrics["spread"] = spread
	}
	if imb, err := b.Imbalance(10); err == nil {
		metrics["imbalance"] = imb
	}
	if wmid, err := b.WeightedMid(10); err == nil {
		metrics["weighted_mid"] = wmid
	}
	if micro, err := b.Microprice(10); err == nil {
		metrics["microprice"] = micro
	}
	if q, age, ok := s.Quotes.GetWithAge(symbol); ok && q.LastPrice > 0 {
		metrics["last"] = q.LastPrice
		metrics["last_age_ms"] = age.Milliseconds()
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"state":    b.State().String(),
		"sequence": b.LastSequence(),
		"bids":     toView(bids),
		"asks":     toView(asks),
		"metrics":  metrics,
	})
}

func (s *Server) getOrders(c *gin.Context) {
	resp := gin.H{}
	if s.Gateway != nil {
		resp["open"] = s.Gateway.OpenOrders()
	}
	if s.Store != nil {
		recent, err := s.Store.RecentOrders(c.Request.Context(), 100)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp["recent"] = recent
	}
	c.JSON(http.StatusOK, resp)
}

type placeOrderRequest struct {
	Symbol      string  `json:"symbol" binding:"required"`
	Side        string  `json:"side" binding:"required"`
	Type        string  `json:"type"`
	Price       float64 `json:"price"`
	Qty         float64 `json:"qty" binding:"required"`
	TimeInForce string  `json:"timeInForce"`
	ReduceOnly  bool    `json:"reduceOnly"`
}

func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order := common.OrderRequest{
		Symbol:      req.Symbol,
		Side:        events.Side(req.Side),
		Type:        common.OrderType(req.Type),
		Price:       req.Price,
		Qty:         req.Qty,
		TimeInForce: common.TimeInForce(req.TimeInForce),
		ReduceOnly:  req.ReduceOnly,
	}
	if order.Type == "" {
		order.Type = common.OrderTypeLimit
	}
	if order.TimeInForce == "" {
		order.TimeInForce = common.TIFGTC
	}

	ack, err := s.Gateway.PlaceOrder(c.Request.Context(), order)
	if err != nil {
		status := http.StatusBadGateway
		if common.IsValidation(err) {
			status = http.StatusBadRequest
		} else if common.IsRejection(err) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"clientId": ack.ClientID,
		"venueId":  ack.VenueID,
		"status":   ack.Status,
	})
}

func (s *Server) cancelOrder(c *gin.Context) {
	clientID := c.Param("clientID")
	if err := s.Gateway.CancelOrder(c.Request.Context(), clientID); err != nil {
		status := http.StatusBadGateway
		if common.IsValidation(err) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": clientID})
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	s.log.Info("api listening on %s", addr)
	return s.Router.Run(addr)
}
