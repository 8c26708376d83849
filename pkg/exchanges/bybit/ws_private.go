package bybit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/unkuseni/rs-smm-v2/internal/events"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

// SubscribePrivate opens the authenticated order/execution/position/wallet
// stream.
func (c *Client) SubscribePrivate(ctx context.Context) (<-chan events.PrivateEvent, func(), error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, nil, fmt.Errorf("bybit: %w: API key/secret required", common.ErrAuth)
	}

	out := make(chan events.PrivateEvent, 256)
	sctx, cancel := context.WithCancel(ctx)
	rc := common.NewReconnector("bybit private", c.log)

	go func() {
		defer close(out)
		rc.Run(sctx, func(ctx context.Context) error {
			return c.runPrivate(ctx, rc, out)
		})
	}()

	var once sync.Once
	stop := func() { once.Do(cancel) }
	return out, stop, nil
}

func (c *Client) runPrivate(ctx context.Context, rc *common.Reconnector, out chan<- events.PrivateEvent) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsPrivateURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial private ws: %v", common.ErrConnection, err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	writeJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}

	expires := time.Now().Add(10 * time.Second).UnixMilli()
	auth := map[string]any{
		"op":   "auth",
		"args": []any{c.cfg.APIKey, expires, sign(fmt.Sprintf("GET/realtime%d", expires), c.cfg.APISecret)},
	}
	if err := writeJSON(auth); err != nil {
		return fmt.Errorf("%w: auth write: %v", common.ErrConnection, err)
	}

	// The auth ack must arrive before anything else.
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: auth read: %v", common.ErrConnection, err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if gjson.GetBytes(msg, "op").String() == "auth" && !gjson.GetBytes(msg, "success").Bool() {
		return fmt.Errorf("bybit: %w: %s", common.ErrAuth, gjson.GetBytes(msg, "ret_msg").String())
	}

	sub := map[string]any{"op": "subscribe", "args": []string{"order", "execution", "position", "wallet"}}
	if err := writeJSON(sub); err != nil {
		return fmt.Errorf("%w: subscribe: %v", common.ErrConnection, err)
	}
	rc.SetState(common.ConnStreaming)

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := writeJSON(map[string]string{"op": "ping"}); err != nil {
					return
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
			return fmt.Errorf("%w: read private ws: %v", common.ErrConnection, err)
		}

		for _, ev := range parsePrivateFrame(msg) {
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// parsePrivateFrame converts one raw private frame into zero or more
// events.
func parsePrivateFrame(msg []byte) []events.PrivateEvent {
	topic := gjson.GetBytes(msg, "topic").String()
	data := gjson.GetBytes(msg, "data")

	var out []events.PrivateEvent
	switch topic {
	case "order":
		data.ForEach(func(_, o gjson.Result) bool {
			out = append(out, events.PrivateEvent{
				Venue: "bybit",
				Order: &events.OrderUpdate{
					ClientID:  o.Get("orderLinkId").String(),
					VenueID:   o.Get("orderId").String(),
					Symbol:    o.Get("symbol").String(),
					Side:      toSide(o.Get("side").String()),
					Price:     o.Get("price").Float(),
					Qty:       o.Get("qty").Float(),
					FilledQty: o.Get("cumExecQty").Float(),
					AvgPrice:  o.Get("avgPrice").Float(),
					Status:    toStatus(o.Get("orderStatus").String()),
					Reason:    o.Get("rejectReason").String(),
					Time:      time.UnixMilli(o.Get("updatedTime").Int()),
				},
			})
			return true
		})
	case "execution":
		data.ForEach(func(_, e gjson.Result) bool {
			out = append(out, events.PrivateEvent{
				Venue: "bybit",
				Fill: &events.FillUpdate{
					ClientID: e.Get("orderLinkId").String(),
					VenueID:  e.Get("orderId").String(),
					Symbol:   e.Get("symbol").String(),
					Side:     toSide(e.Get("side").String()),
					Price:    e.Get("execPrice").Float(),
					Qty:      e.Get("execQty").Float(),
					Fee:      e.Get("execFee").Float(),
					IsMaker:  e.Get("isMaker").Bool(),
					Time:     time.UnixMilli(e.Get("execTime").Int()),
				},
			})
			return true
		})
	case "position":
		data.ForEach(func(_, p gjson.Result) bool {
			qty := p.Get("size").Float()
			if p.Get("side").String() == "Sell" {
				qty = -qty
			}
			out = append(out, events.PrivateEvent{
				Venue: "bybit",
				Position: &events.PositionUpdate{
					Symbol:        p.Get("symbol").String(),
					Qty:           qty,
					EntryPrice:    p.Get("entryPrice").Float(),
					UnrealizedPnL: p.Get("unrealisedPnl").Float(),
					Leverage:      p.Get("leverage").Float(),
					Time:          time.UnixMilli(p.Get("updatedTime").Int()),
				},
			})
			return true
		})
	case "wallet":
		ts := time.UnixMilli(gjson.GetBytes(msg, "creationTime").Int())
		data.ForEach(func(_, acct gjson.Result) bool {
			acct.Get("coin").ForEach(func(_, coin gjson.Result) bool {
				out = append(out, events.PrivateEvent{
					Venue: "bybit",
					Wallet: &events.WalletUpdate{
						Asset:   coin.Get("coin").String(),
						Balance: coin.Get("walletBalance").Float(),
						Time:    ts,
					},
				})
				return true
			})
			return true
		})
	}
	return out
}

func toSide(s string) events.Side {
	if s == "Buy" {
		return events.SideBuy
	}
	return events.SideSell
}

func toStatus(s string) events.OrderStatus {
	switch s {
	case "New", "Untriggered":
		return events.StatusAcknowledged
	case "PartiallyFilled":
		return events.StatusPartiallyFilled
	case "Filled":
		return events.StatusFilled
	case "Cancelled", "Deactivated", "PartiallyFilledCanceled":
		return events.StatusCancelled
	case "Rejected":
		return events.StatusRejected
	default:
		return events.StatusNew
	}
}
