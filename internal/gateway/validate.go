package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
)

// validate checks an order request against the venue's symbol constraints
// before any network call. Float inputs are converted to decimals so tick
// and lot alignment checks do not trip over binary rounding.
func validate(req common.OrderRequest, info common.SymbolInfo) error {
	if req.Symbol == "" {
		return &common.ValidationError{Field: "symbol", Reason: "is required"}
	}
	if req.Qty <= 0 {
		return &common.ValidationError{Field: "qty", Reason: "must be positive"}
	}

	qty := decimal.NewFromFloat(req.Qty)
	if info.LotSize > 0 {
		lot := decimal.NewFromFloat(info.LotSize)
		if !qty.Mod(lot).IsZero() {
			return &common.ValidationError{
				Field:  "qty",
				Reason: fmt.Sprintf("%s not a multiple of lot size %s", qty, lot),
			}
		}
	}
	if info.MinQty > 0 && qty.LessThan(decimal.NewFromFloat(info.MinQty)) {
		return &common.ValidationError{
			Field:  "qty",
			Reason: fmt.Sprintf("%s below minimum %v", qty, info.MinQty),
		}
	}
	if req.TimeInForce == common.TIFPostOnly && info.PostOnlyMax > 0 &&
		qty.GreaterThan(decimal.NewFromFloat(info.PostOnlyMax)) {
		return &common.ValidationError{
			Field:  "qty",
			Reason: fmt.Sprintf("%s above post-only maximum %v", qty, info.PostOnlyMax),
		}
	}

	if req.Type == common.OrderTypeMarket {
		// No price to check; notional is unknown until execution.
		return nil
	}

	if req.Price <= 0 {
		return &common.ValidationError{Field: "price", Reason: "must be positive for limit orders"}
	}
	price := decimal.NewFromFloat(req.Price)
	if info.TickSize > 0 {
		tick := decimal.NewFromFloat(info.TickSize)
		if !price.Mod(tick).IsZero() {
			return &common.ValidationError{
				Field:  "price",
				Reason: fmt.Sprintf("%s not a multiple of tick size %s", price, tick),
			}
		}
	}
	if info.MinNotional > 0 {
		notional := price.Mul(qty)
		if notional.LessThan(decimal.NewFromFloat(info.MinNotional)) {
			return &common.ValidationError{
				Field:  "notional",
				Reason: fmt.Sprintf("%s below minimum %v", notional, info.MinNotional),
			}
		}
	}
	return nil
}

// validateAmend checks changed fields only; unchanged fields were validated
// at placement.
func validateAmend(ch common.OrderChanges, info common.SymbolInfo) error {
	if ch.Price == 0 && ch.Qty == 0 {
		return &common.ValidationError{Field: "changes", Reason: "nothing to amend"}
	}
	if ch.Price < 0 {
		return &common.ValidationError{Field: "price", Reason: "must be positive"}
	}
	if ch.Qty < 0 {
		return &common.ValidationError{Field: "qty", Reason: "must be positive"}
	}
	if ch.Price > 0 && info.TickSize > 0 {
		price := decimal.NewFromFloat(ch.Price)
		tick := decimal.NewFromFloat(info.TickSize)
		if !price.Mod(tick).IsZero() {
			return &common.ValidationError{
				Field:  "price",
				Reason: fmt.Sprintf("%s not a multiple of tick size %s", price, tick),
			}
		}
	}
	if ch.Qty > 0 && info.LotSize > 0 {
		qty := decimal.NewFromFloat(ch.Qty)
		lot := decimal.NewFromFloat(info.LotSize)
		if !qty.Mod(lot).IsZero() {
			return &common.ValidationError{
				Field:  "qty",
				Reason: fmt.Sprintf("%s not a multiple of lot size %s", qty, lot),
			}
		}
	}
	return nil
}
