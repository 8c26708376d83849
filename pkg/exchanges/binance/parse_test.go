package binance

import (
	"errors"
	"testing"

	"github.com/unkuseni/rs-smm-v2/internal/events"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

func TestParseDepthUpdate(t *testing.T) {
	msg := []byte(`{
		"stream":"btcusdt@depth@100ms",
		"data":{"e":"depthUpdate","E":1571889248277,"T":1571889248276,"s":"BTCUSDT",
			"U":390497796,"u":390497878,"pu":390497794,
			"b":[["7403.89","0.002"],["7403.00","0"]],
			"a":[["7405.96","3.340"]]}
	}`)

	ev, ok := parseMarketFrame(msg)
	if !ok || ev.Delta == nil {
		t.Fatalf("expected a delta event, got ok=%v ev=%+v", ok, ev)
	}
	d := ev.Delta
	if d.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", d.Symbol)
	}
	if d.SequenceStart != 390497796 || d.SequenceEnd != 390497878 {
		t.Errorf("span = [%d,%d], want [390497796,390497878]", d.SequenceStart, d.SequenceEnd)
	}
	if len(d.Bids) != 2 || len(d.Asks) != 1 {
		t.Fatalf("levels = %d bids / %d asks, want 2/1", len(d.Bids), len(d.Asks))
	}
	if d.Bids[1].Qty != 0 {
		t.Errorf("second bid qty = %v, want 0 (removal)", d.Bids[1].Qty)
	}
}

func TestParseAggTradeSide(t *testing.T) {
	// m == true means the buyer was the maker, so the aggressor sold.
	msg := []byte(`{
		"stream":"btcusdt@aggTrade",
		"data":{"e":"aggTrade","E":123456789,"s":"BTCUSDT","a":5933014,"p":"0.001","q":"100","T":123456785,"m":true}
	}`)

	ev, ok := parseMarketFrame(msg)
	if !ok || ev.Trade == nil {
		t.Fatalf("expected a trade event, got ok=%v ev=%+v", ok, ev)
	}
	if ev.Trade.Side != events.SideSell {
		t.Errorf("Side = %v, want SELL", ev.Trade.Side)
	}
	if ev.Trade.TradeID != "5933014" {
		t.Errorf("TradeID = %q, want 5933014", ev.Trade.TradeID)
	}
}

func TestParseBookTicker(t *testing.T) {
	msg := []byte(`{
		"stream":"btcusdt@bookTicker",
		"data":{"e":"bookTicker","u":400900217,"E":1568014460893,"s":"BTCUSDT","b":"25.35190000","B":"31.21000000","a":"25.36520000","A":"40.66000000"}
	}`)

	ev, ok := parseMarketFrame(msg)
	if !ok || ev.Ticker == nil {
		t.Fatalf("expected a ticker event, got ok=%v ev=%+v", ok, ev)
	}
	tick := ev.Ticker
	if tick.BestBid != 25.3519 || tick.BestAsk != 25.3652 {
		t.Errorf("bid/ask = %v/%v", tick.BestBid, tick.BestAsk)
	}
	if tick.BidQty != 31.21 || tick.AskQty != 40.66 {
		t.Errorf("bid/ask qty = %v/%v", tick.BidQty, tick.AskQty)
	}
}

func TestParseUnknownFrame(t *testing.T) {
	if _, ok := parseMarketFrame([]byte(`{"result":null,"id":1}`)); ok {
		t.Error("subscription ack should not produce an event")
	}
}

func TestParseOrderTradeUpdateWithFill(t *testing.T) {
	msg := []byte(`{
		"e":"ORDER_TRADE_UPDATE","E":1568879465651,"T":1568879465650,
		"o":{"s":"BTCUSDT","c":"my-order-1","S":"SELL","o":"LIMIT","q":"0.001","p":"9910","ap":"9910",
			"x":"TRADE","X":"PARTIALLY_FILLED","i":8886774,"l":"0.0004","z":"0.0004","L":"9910",
			"N":"USDT","n":"0.00159","T":1568879465650,"t":157,"m":true}
	}`)

	got := parseUserFrame(msg)
	if len(got) != 2 {
		t.Fatalf("got %d events, want order + fill", len(got))
	}
	o := got[0].Order
	if o == nil {
		t.Fatal("first event should be the order update")
	}
	if o.ClientID != "my-order-1" || o.VenueID != "8886774" {
		t.Errorf("ids = %q/%q", o.ClientID, o.VenueID)
	}
	if o.Status != events.StatusPartiallyFilled {
		t.Errorf("Status = %v, want PARTIALLY_FILLED", o.Status)
	}
	f := got[1].Fill
	if f == nil {
		t.Fatal("second event should be the fill")
	}
	if f.Qty != 0.0004 || f.Price != 9910 || !f.IsMaker {
		t.Errorf("fill = %+v", f)
	}
	// "N" (commission asset) and "t" (trade id) sit next to "n" and "T"; the
	// fee and timestamp must come from the lowercase and uppercase keys
	// respectively, not their case-insensitive neighbors.
	if f.Fee != 0.00159 {
		t.Errorf("Fee = %v, want 0.00159", f.Fee)
	}
	if f.Time.UnixMilli() != 1568879465650 {
		t.Errorf("fill time = %d, want 1568879465650", f.Time.UnixMilli())
	}
}

func TestParseOrderTradeUpdateWithoutFill(t *testing.T) {
	msg := []byte(`{
		"e":"ORDER_TRADE_UPDATE","E":1,
		"o":{"s":"BTCUSDT","c":"my-order-2","S":"BUY","o":"LIMIT","q":"1","p":"100","ap":"0",
			"x":"NEW","X":"NEW","i":1,"l":"0","z":"0","L":"0","T":1,"m":false}
	}`)

	got := parseUserFrame(msg)
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Order.Status != events.StatusAcknowledged {
		t.Errorf("Status = %v, want ACKNOWLEDGED", got[0].Order.Status)
	}
}

func TestParseAccountUpdate(t *testing.T) {
	msg := []byte(`{
		"e":"ACCOUNT_UPDATE","E":1564745798939,
		"a":{"B":[{"a":"USDT","wb":"122624.12345678"}],
			"P":[{"s":"BTCUSDT","pa":"-10","ep":"6563.66500","up":"-0.6"}]}
	}`)

	got := parseUserFrame(msg)
	if len(got) != 2 {
		t.Fatalf("got %d events, want wallet + position", len(got))
	}
	if w := got[0].Wallet; w == nil || w.Asset != "USDT" || w.Balance != 122624.12345678 {
		t.Errorf("wallet = %+v", got[0].Wallet)
	}
	if p := got[1].Position; p == nil || p.Qty != -10 {
		t.Errorf("position = %+v", got[1].Position)
	}
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		in   string
		want events.OrderStatus
	}{
		{"NEW", events.StatusAcknowledged},
		{"PARTIALLY_FILLED", events.StatusPartiallyFilled},
		{"FILLED", events.StatusFilled},
		{"CANCELED", events.StatusCancelled},
		{"EXPIRED", events.StatusCancelled},
		{"REJECTED", events.StatusRejected},
	}
	for _, tt := range tests {
		if got := mapStatus(tt.in); got != tt.want {
			t.Errorf("mapStatus(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMapAPIError(t *testing.T) {
	err := mapAPIError(400, []byte(`{"code":-1022,"msg":"Signature for this request is not valid."}`), "/fapi/v1/order")
	if !errors.Is(err, common.ErrAuth) {
		t.Errorf("code -1022 should map to ErrAuth, got %v", err)
	}

	err = mapAPIError(429, []byte(`{"code":-1003,"msg":"Too many requests."}`), "/fapi/v1/order")
	if !errors.Is(err, common.ErrRateLimited) {
		t.Errorf("429 should map to ErrRateLimited, got %v", err)
	}

	err = mapAPIError(400, []byte(`{"code":-2010,"msg":"Account has insufficient balance."}`), "/fapi/v1/order")
	var rej *common.RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("code -2010 should be a rejection, got %v", err)
	}
	if rej.Code != -2010 {
		t.Errorf("rejection code = %d, want -2010", rej.Code)
	}
}
