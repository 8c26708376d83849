package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/unkuseni/rs-smm-v2/internal/events"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

// SymbolInfo fetches tick size, lot size and notional constraints.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (common.SymbolInfo, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	env, err := c.do(ctx, http.MethodGet, "/v5/market/instruments-info", q, nil, false)
	if err != nil {
		return common.SymbolInfo{}, err
	}
	var out struct {
		List []struct {
			Symbol      string `json:"symbol"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				QtyStep             string `json:"qtyStep"`
				MinOrderQty         string `json:"minOrderQty"`
				MinNotionalValue    string `json:"minNotionalValue"`
				PostOnlyMaxOrderQty string `json:"postOnlyMaxOrderQty"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &out); err != nil {
		return common.SymbolInfo{}, fmt.Errorf("decode instruments-info: %w", err)
	}
	if len(out.List) == 0 {
		return common.SymbolInfo{}, fmt.Errorf("bybit: unknown symbol %q", symbol)
	}
	inst := out.List[0]
	return common.SymbolInfo{
		Symbol:      inst.Symbol,
		TickSize:    parseFloat(inst.PriceFilter.TickSize),
		LotSize:     parseFloat(inst.LotSizeFilter.QtyStep),
		MinNotional: parseFloat(inst.LotSizeFilter.MinNotionalValue),
		MinQty:      parseFloat(inst.LotSizeFilter.MinOrderQty),
		PostOnlyMax: parseFloat(inst.LotSizeFilter.PostOnlyMaxOrderQty),
	}, nil
}

// Fees fetches the maker/taker schedule for a symbol.
func (c *Client) Fees(ctx context.Context, symbol string) (common.FeeSchedule, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	env, err := c.do(ctx, http.MethodGet, "/v5/account/fee-rate", q, nil, true)
	if err != nil {
		return common.FeeSchedule{}, err
	}
	var out struct {
		List []struct {
			MakerFeeRate string `json:"makerFeeRate"`
			TakerFeeRate string `json:"takerFeeRate"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &out); err != nil {
		return common.FeeSchedule{}, fmt.Errorf("decode fee-rate: %w", err)
	}
	if len(out.List) == 0 {
		return common.FeeSchedule{}, fmt.Errorf("bybit: no fee rate for %q", symbol)
	}
	return common.FeeSchedule{
		Maker: parseFloat(out.List[0].MakerFeeRate),
		Taker: parseFloat(out.List[0].TakerFeeRate),
	}, nil
}

// SetLeverage configures buy and sell leverage for a symbol. Bybit rejects
// a no-op change with retCode 110043; that is treated as success.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	body := map[string]string{
		"category":     category,
		"symbol":       symbol,
		"buyLeverage":  strconv.Itoa(leverage),
		"sellLeverage": strconv.Itoa(leverage),
	}
	_, err := c.do(ctx, http.MethodPost, "/v5/position/set-leverage", nil, body, true)
	if r, ok := asRejection(err); ok && r.Code == 110043 {
		return nil
	}
	return err
}

// orderPayload is the v5 order create body, shared by single and batch
// placement.
type orderPayload struct {
	Category    string `json:"category,omitempty"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	Price       string `json:"price,omitempty"`
	TimeInForce string `json:"timeInForce,omitempty"`
	OrderLinkID string `json:"orderLinkId,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
}

func toPayload(req common.OrderRequest) orderPayload {
	p := orderPayload{
		Symbol:      req.Symbol,
		OrderType:   "Limit",
		Qty:         formatFloat(req.Qty),
		OrderLinkID: req.ClientID,
		ReduceOnly:  req.ReduceOnly,
	}
	if req.Side == events.SideBuy {
		p.Side = "Buy"
	} else {
		p.Side = "Sell"
	}
	if req.Type == common.OrderTypeMarket {
		p.OrderType = "Market"
		return p
	}
	p.Price = formatFloat(req.Price)
	switch req.TimeInForce {
	case common.TIFIOC:
		p.TimeInForce = "IOC"
	case common.TIFPostOnly:
		p.TimeInForce = "PostOnly"
	default:
		p.TimeInForce = "GTC"
	}
	return p
}

// PlaceOrder submits one order.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	p := toPayload(req)
	p.Category = category
	env, err := c.do(ctx, http.MethodPost, "/v5/order/create", nil, p, true)
	if err != nil {
		return common.OrderAck{}, err
	}
	var out struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(env.Result, &out); err != nil {
		return common.OrderAck{}, fmt.Errorf("decode order create: %w", err)
	}
	return common.OrderAck{
		ClientID: out.OrderLinkID,
		VenueID:  out.OrderID,
		Symbol:   req.Symbol,
		Status:   events.StatusAcknowledged,
	}, nil
}

// AmendOrder modifies price and/or quantity of an open order.
func (c *Client) AmendOrder(ctx context.Context, venueID, symbol string, ch common.OrderChanges) (common.OrderAck, error) {
	body := map[string]string{
		"category": category,
		"symbol":   symbol,
		"orderId":  venueID,
	}
	if ch.Price > 0 {
		body["price"] = formatFloat(ch.Price)
	}
	if ch.Qty > 0 {
		body["qty"] = formatFloat(ch.Qty)
	}
	env, err := c.do(ctx, http.MethodPost, "/v5/order/amend", nil, body, true)
	if err != nil {
		return common.OrderAck{}, err
	}
	var out struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := json.Unmarshal(env.Result, &out); err != nil {
		return common.OrderAck{}, fmt.Errorf("decode order amend: %w", err)
	}
	return common.OrderAck{
		ClientID: out.OrderLinkID,
		VenueID:  out.OrderID,
		Symbol:   symbol,
		Status:   events.StatusAcknowledged,
	}, nil
}

// CancelOrder cancels one open order.
func (c *Client) CancelOrder(ctx context.Context, venueID, symbol string) error {
	body := map[string]string{
		"category": category,
		"symbol":   symbol,
		"orderId":  venueID,
	}
	_, err := c.do(ctx, http.MethodPost, "/v5/order/cancel", nil, body, true)
	return err
}

// CancelAll cancels every open order on a symbol.
func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	body := map[string]string{
		"category": category,
		"symbol":   symbol,
	}
	_, err := c.do(ctx, http.MethodPost, "/v5/order/cancel-all", nil, body, true)
	return err
}

// batchExt is the per-item status block returned alongside batch results.
type batchExt struct {
	List []struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"list"`
}

// BatchOrders submits up to MaxBatchSize orders in one call. Results come
// back in input order; a failed item carries its venue error while the rest
// succeed independently.
func (c *Client) BatchOrders(ctx context.Context, reqs []common.OrderRequest) ([]common.BatchResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if len(reqs) > maxBatch {
		return nil, fmt.Errorf("bybit: batch of %d exceeds limit %d", len(reqs), maxBatch)
	}
	payloads := make([]orderPayload, len(reqs))
	for i, r := range reqs {
		payloads[i] = toPayload(r)
	}
	body := map[string]any{
		"category": category,
		"request":  payloads,
	}
	env, err := c.do(ctx, http.MethodPost, "/v5/order/create-batch", nil, body, true)
	if err != nil {
		return nil, err
	}
	var out struct {
		List []struct {
			Symbol      string `json:"symbol"`
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &out); err != nil {
		return nil, fmt.Errorf("decode batch create: %w", err)
	}
	var ext batchExt
	if err := json.Unmarshal(env.RetExtInfo, &ext); err != nil {
		return nil, fmt.Errorf("decode batch retExtInfo: %w", err)
	}
	if len(out.List) != len(reqs) || len(ext.List) != len(reqs) {
		return nil, fmt.Errorf("bybit: batch result count mismatch: sent %d got %d/%d", len(reqs), len(out.List), len(ext.List))
	}

	results := make([]common.BatchResult, len(reqs))
	for i := range reqs {
		if code := ext.List[i].Code; code != 0 {
			results[i].Err = mapRetCode(code, ext.List[i].Msg)
			continue
		}
		results[i].Ack = common.OrderAck{
			ClientID: out.List[i].OrderLinkID,
			VenueID:  out.List[i].OrderID,
			Symbol:   out.List[i].Symbol,
			Status:   events.StatusAcknowledged,
		}
	}
	return results, nil
}

// BatchAmends amends up to MaxBatchSize open orders in one call.
func (c *Client) BatchAmends(ctx context.Context, reqs []common.AmendRequest) ([]common.BatchResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if len(reqs) > maxBatch {
		return nil, fmt.Errorf("bybit: batch of %d exceeds limit %d", len(reqs), maxBatch)
	}
	type amendPayload struct {
		Symbol  string `json:"symbol"`
		OrderID string `json:"orderId"`
		Price   string `json:"price,omitempty"`
		Qty     string `json:"qty,omitempty"`
	}
	payloads := make([]amendPayload, len(reqs))
	for i, r := range reqs {
		payloads[i] = amendPayload{Symbol: r.Symbol, OrderID: r.VenueID}
		if r.Changes.Price > 0 {
			payloads[i].Price = formatFloat(r.Changes.Price)
		}
		if r.Changes.Qty > 0 {
			payloads[i].Qty = formatFloat(r.Changes.Qty)
		}
	}
	body := map[string]any{
		"category": category,
		"request":  payloads,
	}
	env, err := c.do(ctx, http.MethodPost, "/v5/order/amend-batch", nil, body, true)
	if err != nil {
		return nil, err
	}
	var out struct {
		List []struct {
			Symbol      string `json:"symbol"`
			OrderID     string `json:"orderId"`
			OrderLinkID string `json:"orderLinkId"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &out); err != nil {
		return nil, fmt.Errorf("decode batch amend: %w", err)
	}
	var ext batchExt
	if err := json.Unmarshal(env.RetExtInfo, &ext); err != nil {
		return nil, fmt.Errorf("decode batch retExtInfo: %w", err)
	}
	if len(out.List) != len(reqs) || len(ext.List) != len(reqs) {
		return nil, fmt.Errorf("bybit: batch result count mismatch: sent %d got %d/%d", len(reqs), len(out.List), len(ext.List))
	}

	results := make([]common.BatchResult, len(reqs))
	for i := range reqs {
		if code := ext.List[i].Code; code != 0 {
			results[i].Err = mapRetCode(code, ext.List[i].Msg)
			continue
		}
		results[i].Ack = common.OrderAck{
			ClientID: out.List[i].OrderLinkID,
			VenueID:  out.List[i].OrderID,
			Symbol:   out.List[i].Symbol,
			Status:   events.StatusAcknowledged,
		}
	}
	return results, nil
}

// Snapshot fetches a REST order-book snapshot.
func (c *Client) Snapshot(ctx context.Context, symbol string, depth int) (*events.BookSnapshot, error) {
	if depth <= 0 {
		depth = 50
	}
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	q.Set("limit", strconv.Itoa(depth))
	env, err := c.do(ctx, http.MethodGet, "/v5/market/orderbook", q, nil, false)
	if err != nil {
		return nil, err
	}
	var out struct {
		Symbol string      `json:"s"`
		Bids   [][2]string `json:"b"`
		Asks   [][2]string `json:"a"`
		TS     int64       `json:"ts"`
		U      uint64      `json:"u"`
	}
	if err := json.Unmarshal(env.Result, &out); err != nil {
		return nil, fmt.Errorf("decode orderbook: %w", err)
	}
	return &events.BookSnapshot{
		Symbol:   out.Symbol,
		Bids:     toLevels(out.Bids),
		Asks:     toLevels(out.Asks),
		Sequence: out.U,
		Time:     time.UnixMilli(out.TS),
	}, nil
}

func toLevels(raw [][2]string) []events.Level {
	levels := make([]events.Level, 0, len(raw))
	for _, r := range raw {
		levels = append(levels, events.Level{Price: parseFloat(r[0]), Qty: parseFloat(r[1])})
	}
	return levels
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func asRejection(err error) (*common.RejectionError, bool) {
	var r *common.RejectionError
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
