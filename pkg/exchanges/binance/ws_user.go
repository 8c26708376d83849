package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/unkuseni/rs-smm-v2/internal/events"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

// The venue expires a listen key idle for 60 minutes.
const keepAliveInterval = 30 * time.Minute

// SubscribePrivate opens the authenticated user data stream.
func (c *Client) SubscribePrivate(ctx context.Context) (<-chan events.PrivateEvent, func(), error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, nil, fmt.Errorf("binance: %w: API key/secret required", common.ErrAuth)
	}

	out := make(chan events.PrivateEvent, 256)
	sctx, cancel := context.WithCancel(ctx)
	rc := common.NewReconnector("binance user", c.log)

	go func() {
		defer close(out)
		rc.Run(sctx, func(ctx context.Context) error {
			return c.runUser(ctx, rc, out)
		})
	}()

	var once sync.Once
	stop := func() { once.Do(cancel) }
	return out, stop, nil
}

func (c *Client) runUser(ctx context.Context, rc *common.Reconnector, out chan<- events.PrivateEvent) error {
	listenKey, err := c.CreateListenKey(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsBaseURL+"/ws/"+listenKey, nil)
	if err != nil {
		return fmt.Errorf("%w: dial user ws: %v", common.ErrConnection, err)
	}
	defer conn.Close()
	rc.SetState(common.ConnStreaming)

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	kaCtx, stopKA := context.WithCancel(ctx)
	defer stopKA()
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				if err := c.KeepAliveListenKey(kaCtx); err != nil {
					c.log.Warning("listen key keepalive failed: %v", err)
				}
			}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return fmt.Errorf("%w: read user ws: %v", common.ErrConnection, err)
		}

		for _, ev := range parseUserFrame(msg) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// parseUserFrame converts one user data frame into zero or more events. An
// order update that carries a fill yields both the order event and the fill
// event.
func parseUserFrame(msg []byte) []events.PrivateEvent {
	// The "E" sibling must be declared next to "e": json tag matching is
	// case-insensitive and the numeric event time would otherwise be decoded
	// into the string field, failing the unmarshal.
	var head struct {
		Event     string `json:"e"`
		EventTime int64  `json:"E"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return nil
	}

	switch head.Event {
	case "ORDER_TRADE_UPDATE":
		return parseOrderTradeUpdate(msg)
	case "ACCOUNT_UPDATE":
		return parseAccountUpdate(msg)
	case "listenKeyExpired":
		// The next read error triggers a reconnect with a fresh key.
		return nil
	}
	return nil
}

func parseOrderTradeUpdate(msg []byte) []events.PrivateEvent {
	var raw struct {
		Event     string `json:"e"`
		EventTime int64  `json:"E"`
		Order     struct {
			Symbol        string `json:"s"`
			ClientOrderID string `json:"c"`
			Side          string `json:"S"`
			Qty           string `json:"q"`
			Price         string `json:"p"`
			AvgPrice      string `json:"ap"`
			ExecType      string `json:"x"`
			Status        string `json:"X"`
			OrderID       int64  `json:"i"`
			LastFillQty   string `json:"l"`
			FilledQty     string `json:"z"`
			LastFillPrice string `json:"L"`
			CommissionAst string `json:"N"`
			Commission    string `json:"n"`
			TradeTime     int64  `json:"T"`
			TradeID       int64  `json:"t"`
			IsMaker       bool   `json:"m"`
		} `json:"o"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil
	}
	o := raw.Order

	side := events.SideBuy
	if o.Side == "SELL" {
		side = events.SideSell
	}
	venueID := fmt.Sprintf("%d", o.OrderID)

	out := []events.PrivateEvent{{
		Venue: "binance",
		Order: &events.OrderUpdate{
			ClientID:  o.ClientOrderID,
			VenueID:   venueID,
			Symbol:    o.Symbol,
			Side:      side,
			Price:     parseFloat(o.Price),
			Qty:       parseFloat(o.Qty),
			FilledQty: parseFloat(o.FilledQty),
			AvgPrice:  parseFloat(o.AvgPrice),
			Status:    mapStatus(o.Status),
			Time:      time.UnixMilli(raw.EventTime),
		},
	}}

	if o.ExecType == "TRADE" && parseFloat(o.LastFillQty) > 0 {
		out = append(out, events.PrivateEvent{
			Venue: "binance",
			Fill: &events.FillUpdate{
				ClientID: o.ClientOrderID,
				VenueID:  venueID,
				Symbol:   o.Symbol,
				Side:     side,
				Price:    parseFloat(o.LastFillPrice),
				Qty:      parseFloat(o.LastFillQty),
				Fee:      parseFloat(o.Commission),
				IsMaker:  o.IsMaker,
				Time:     time.UnixMilli(o.TradeTime),
			},
		})
	}
	return out
}

func parseAccountUpdate(msg []byte) []events.PrivateEvent {
	var raw struct {
		Event     string `json:"e"`
		EventTime int64  `json:"E"`
		Account   struct {
			Balances []struct {
				Asset   string `json:"a"`
				Balance string `json:"wb"`
			} `json:"B"`
			Positions []struct {
				Symbol        string `json:"s"`
				Amount        string `json:"pa"`
				EntryPrice    string `json:"ep"`
				UnrealizedPnL string `json:"up"`
			} `json:"P"`
		} `json:"a"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil
	}
	ts := time.UnixMilli(raw.EventTime)

	var out []events.PrivateEvent
	for _, b := range raw.Account.Balances {
		out = append(out, events.PrivateEvent{
			Venue: "binance",
			Wallet: &events.WalletUpdate{
				Asset:   b.Asset,
				Balance: parseFloat(b.Balance),
				Time:    ts,
			},
		})
	}
	for _, p := range raw.Account.Positions {
		out = append(out, events.PrivateEvent{
			Venue: "binance",
			Position: &events.PositionUpdate{
				Symbol:        p.Symbol,
				Qty:           parseFloat(p.Amount),
				EntryPrice:    parseFloat(p.EntryPrice),
				UnrealizedPnL: parseFloat(p.UnrealizedPnL),
				Time:          ts,
			},
		})
	}
	return out
}
