package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/unkuseni/rs-smm-v2/internal/events"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

// SymbolInfo fetches tick size, lot size and notional constraints from the
// exchange filters.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (common.SymbolInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", params)
	if err != nil {
		return common.SymbolInfo{}, err
	}
	var out struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
				MinQty     string `json:"minQty"`
				MaxQty     string `json:"maxQty"`
				Notional   string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return common.SymbolInfo{}, fmt.Errorf("decode exchangeInfo: %w", err)
	}
	if len(out.Symbols) == 0 {
		return common.SymbolInfo{}, fmt.Errorf("binance: unknown symbol %q", symbol)
	}

	info := common.SymbolInfo{Symbol: out.Symbols[0].Symbol}
	for _, f := range out.Symbols[0].Filters {
		switch f.FilterType {
		case "PRICE_FILTER":
			info.TickSize = parseFloat(f.TickSize)
		case "LOT_SIZE":
			info.LotSize = parseFloat(f.StepSize)
			info.MinQty = parseFloat(f.MinQty)
			// No dedicated post-only cap; the limit order cap applies.
			info.PostOnlyMax = parseFloat(f.MaxQty)
		case "MIN_NOTIONAL":
			info.MinNotional = parseFloat(f.Notional)
		}
	}
	return info, nil
}

// Fees fetches the account commission rates for a symbol.
func (c *Client) Fees(ctx context.Context, symbol string) (common.FeeSchedule, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/commissionRate", params)
	if err != nil {
		return common.FeeSchedule{}, err
	}
	var out struct {
		MakerCommissionRate string `json:"makerCommissionRate"`
		TakerCommissionRate string `json:"takerCommissionRate"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return common.FeeSchedule{}, fmt.Errorf("decode commissionRate: %w", err)
	}
	return common.FeeSchedule{
		Maker: parseFloat(out.MakerCommissionRate),
		Taker: parseFloat(out.TakerCommissionRate),
	}, nil
}

// SetLeverage sets leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

func orderParams(req common.OrderRequest) url.Values {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("quantity", formatFloat(req.Qty))
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.Type == common.OrderTypeMarket {
		params.Set("type", "MARKET")
		return params
	}
	params.Set("type", "LIMIT")
	params.Set("price", formatFloat(req.Price))
	switch req.TimeInForce {
	case common.TIFIOC:
		params.Set("timeInForce", "IOC")
	case common.TIFPostOnly:
		// GTX is rejected instead of crossing the book.
		params.Set("timeInForce", "GTX")
	default:
		params.Set("timeInForce", "GTC")
	}
	return params
}

type orderResp struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
}

func (r orderResp) ack() common.OrderAck {
	return common.OrderAck{
		ClientID: r.ClientOrderID,
		VenueID:  strconv.FormatInt(r.OrderID, 10),
		Symbol:   r.Symbol,
		Status:   mapStatus(r.Status),
	}
}

// PlaceOrder submits one order.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderAck, error) {
	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", orderParams(req))
	if err != nil {
		return common.OrderAck{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderAck{}, fmt.Errorf("decode order: %w", err)
	}
	return resp.ack(), nil
}

// lookupOrder fetches an open order's side and quantities. The modify
// endpoint replays the whole order, so amendments need them.
func (c *Client) lookupOrder(ctx context.Context, venueID, symbol string) (side string, qty, price float64, err error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", venueID)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return "", 0, 0, err
	}
	var out struct {
		Side     string `json:"side"`
		OrigQty  string `json:"origQty"`
		Price    string `json:"price"`
		OrderID  int64  `json:"orderId"`
		ClientID string `json:"clientOrderId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", 0, 0, fmt.Errorf("decode order lookup: %w", err)
	}
	return out.Side, parseFloat(out.OrigQty), parseFloat(out.Price), nil
}

// AmendOrder modifies price and/or quantity of an open order.
func (c *Client) AmendOrder(ctx context.Context, venueID, symbol string, ch common.OrderChanges) (common.OrderAck, error) {
	side, origQty, origPrice, err := c.lookupOrder(ctx, venueID, symbol)
	if err != nil {
		return common.OrderAck{}, err
	}
	qty, price := ch.Qty, ch.Price
	if qty <= 0 {
		qty = origQty
	}
	if price <= 0 {
		price = origPrice
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", venueID)
	params.Set("side", side)
	params.Set("quantity", formatFloat(qty))
	params.Set("price", formatFloat(price))
	body, err := c.doSigned(ctx, http.MethodPut, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderAck{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderAck{}, fmt.Errorf("decode order amend: %w", err)
	}
	return resp.ack(), nil
}

// CancelOrder cancels one open order.
func (c *Client) CancelOrder(ctx context.Context, venueID, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", venueID)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params)
	return err
}

// CancelAll cancels every open order on a symbol.
func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params)
	return err
}

// batchItem is one element of a batch response: either an order ack or an
// inline error.
type batchItem struct {
	orderResp
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func decodeBatch(body []byte, want int) ([]common.BatchResult, error) {
	var items []batchItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if len(items) != want {
		return nil, fmt.Errorf("binance: batch result count mismatch: sent %d got %d", want, len(items))
	}
	results := make([]common.BatchResult, len(items))
	for i, item := range items {
		if item.Code != 0 {
			results[i].Err = &common.RejectionError{Code: item.Code, Reason: item.Msg}
			continue
		}
		results[i].Ack = item.ack()
	}
	return results, nil
}

// BatchOrders submits up to MaxBatchSize orders in one call. Results come
// back in input order; a failed item carries its venue error while the rest
// succeed independently.
func (c *Client) BatchOrders(ctx context.Context, reqs []common.OrderRequest) ([]common.BatchResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if len(reqs) > maxBatch {
		return nil, fmt.Errorf("binance: batch of %d exceeds limit %d", len(reqs), maxBatch)
	}
	payload := make([]map[string]string, len(reqs))
	for i, r := range reqs {
		item := map[string]string{}
		for k, v := range orderParams(r) {
			item[k] = v[0]
		}
		payload[i] = item
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("batchOrders", string(raw))
	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/batchOrders", params)
	if err != nil {
		return nil, err
	}
	return decodeBatch(body, len(reqs))
}

// BatchAmends amends up to MaxBatchSize open orders in one call. Items
// without a Side hint cost one lookup each.
func (c *Client) BatchAmends(ctx context.Context, reqs []common.AmendRequest) ([]common.BatchResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	if len(reqs) > maxBatch {
		return nil, fmt.Errorf("binance: batch of %d exceeds limit %d", len(reqs), maxBatch)
	}
	payload := make([]map[string]string, len(reqs))
	for i, r := range reqs {
		side := string(r.Side)
		qty, price := r.Changes.Qty, r.Changes.Price
		if side == "" || qty <= 0 || price <= 0 {
			s, origQty, origPrice, err := c.lookupOrder(ctx, r.VenueID, r.Symbol)
			if err != nil {
				return nil, err
			}
			if side == "" {
				side = s
			}
			if qty <= 0 {
				qty = origQty
			}
			if price <= 0 {
				price = origPrice
			}
		}
		payload[i] = map[string]string{
			"symbol":   r.Symbol,
			"orderId":  r.VenueID,
			"side":     side,
			"quantity": formatFloat(qty),
			"price":    formatFloat(price),
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("batchOrders", string(raw))
	body, err := c.doSigned(ctx, http.MethodPut, "/fapi/v1/batchOrders", params)
	if err != nil {
		return nil, err
	}
	return decodeBatch(body, len(reqs))
}

// Snapshot fetches a REST order-book snapshot.
func (c *Client) Snapshot(ctx context.Context, symbol string, depth int) (*events.BookSnapshot, error) {
	if depth <= 0 {
		depth = 100
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(depth))
	body, err := c.doPublic(ctx, "/fapi/v1/depth", params)
	if err != nil {
		return nil, err
	}
	var out struct {
		LastUpdateID uint64      `json:"lastUpdateId"`
		EventTime    int64       `json:"E"`
		Bids         [][2]string `json:"bids"`
		Asks         [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode depth: %w", err)
	}
	return &events.BookSnapshot{
		Symbol:   symbol,
		Bids:     toLevels(out.Bids),
		Asks:     toLevels(out.Asks),
		Sequence: out.LastUpdateID,
		Time:     time.UnixMilli(out.EventTime),
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

// mapStatus normalizes venue order states.
func mapStatus(s string) events.OrderStatus {
	switch s {
	case "NEW":
		return events.StatusAcknowledged
	case "PARTIALLY_FILLED":
		return events.StatusPartiallyFilled
	case "FILLED":
		return events.StatusFilled
	case "CANCELED", "EXPIRED":
		return events.StatusCancelled
	case "REJECTED":
		return events.StatusRejected
	default:
		return events.StatusNew
	}
}
