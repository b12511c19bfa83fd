package order

import (
	"strings"

	"github.com/google/uuid"

	"github.com/rickgao/kalshi-trade/internal/errs"
)

// Validate checks an order locally. Every failure is KindInvalidRequest and
// no network call is made for an order that fails here.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.ClientOrderID) == "" {
		return errs.InvalidRequest("client_order_id is required")
	}
	if _, err := uuid.Parse(o.ClientOrderID); err != nil {
		return errs.InvalidRequest("client_order_id %q is not a UUID", o.ClientOrderID)
	}
	if strings.TrimSpace(o.Ticker) == "" {
		return errs.InvalidRequest("ticker is required")
	}
	switch o.Side {
	case SideYes, SideNo:
	default:
		return errs.InvalidRequest("invalid side %q", o.Side)
	}
	switch o.Action {
	case ActionBuy, ActionSell:
	default:
		return errs.InvalidRequest("invalid action %q", o.Action)
	}
	if o.Count <= 0 {
		return errs.InvalidRequest("count must be positive, got %d", o.Count)
	}

	switch o.Type {
	case TypeLimit:
		if err := validatePrice(o.Price); err != nil {
			return err
		}
	case TypeMarket:
		if o.Price != 0 {
			if err := validatePrice(o.Price); err != nil {
				return err
			}
		}
	default:
		return errs.InvalidRequest("invalid order type %q", o.Type)
	}

	switch o.TimeInForce {
	case GoodTillCanceled, FillOrKill, ImmediateOrCancel:
	default:
		return errs.InvalidRequest("invalid time_in_force %q", o.TimeInForce)
	}
	if o.ExpirationTS < 0 {
		return errs.InvalidRequest("expiration_ts must not be negative")
	}
	if o.BuyMaxCost < 0 {
		return errs.InvalidRequest("buy_max_cost must not be negative")
	}
	if o.PostOnly && o.TimeInForce != GoodTillCanceled {
		return errs.InvalidRequest("post_only requires a resting time_in_force")
	}
	return nil
}

func validatePrice(cents int) error {
	if cents < MinPrice || cents > MaxPrice {
		return errs.InvalidRequest("price must be within [%d, %d] cents, got %d", MinPrice, MaxPrice, cents)
	}
	return nil
}
