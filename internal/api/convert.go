package api

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseDollars parses a dollar string such as "0.5250" without float rounding.
func ParseDollars(dollars string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(dollars))
}

// DollarsToCents converts a dollar string to whole cents, rounding half away
// from zero. "0.52" -> 52, "0.525" -> 53.
// Returns 0 for empty or invalid input.
func DollarsToCents(dollars string) int {
	if strings.TrimSpace(dollars) == "" {
		return 0
	}
	d, err := ParseDollars(dollars)
	if err != nil {
		return 0
	}
	return int(d.Mul(hundred).Round(0).IntPart())
}

// CentsToDollars renders cents as a two-decimal dollar string. 52 -> "0.52".
func CentsToDollars(cents int) string {
	return decimal.New(int64(cents), -2).StringFixed(2)
}

// ParseTimestamp parses an ISO 8601 timestamp.
// Returns the zero time for empty or invalid input.
func ParseTimestamp(iso string) time.Time {
	if iso == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		// Try without timezone
		t, err = time.Parse("2006-01-02T15:04:05", iso)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}

// Quote is the top of a binary book in cents. A zero field means that side
// is empty.
type Quote struct {
	YesBid int
	YesAsk int
	Spread int
}

// Top derives the best YES bid and ask. The book only carries bids on each
// side, so the best YES ask is 100 minus the best NO bid.
func (o *APIOrderbook) Top() Quote {
	var q Quote
	q.YesBid = bestBid(o.Yes)
	if noBid := bestBid(o.No); noBid > 0 {
		q.YesAsk = 100 - noBid
	}
	if q.YesBid > 0 && q.YesAsk > 0 {
		q.Spread = q.YesAsk - q.YesBid
	}
	return q
}

func bestBid(levels [][]int) int {
	best := 0
	for _, level := range levels {
		if len(level) >= 2 && level[1] > 0 && level[0] > best {
			best = level[0]
		}
	}
	return best
}
