package service

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/kzp/zoo-ticketing/internal/config"
	"github.com/kzp/zoo-ticketing/internal/model"
)

// moneyTolerance is the accepted rounding drift between two amounts.
const moneyTolerance = 0.01

// CartItem is one requested line.  Quantity accepts a JSON number or a
// numeric string and must be a positive whole number.
type CartItem struct {
	ItemCode string      `json:"itemCode"`
	Quantity json.Number `json:"quantity"`
}

// PricedItem is one resolved, priced line keyed by canonical code.
type PricedItem = model.TicketItem

// PricedCart is the result of ResolveAndPrice.
type PricedCart struct {
	Items       []PricedItem `json:"pricedItems"`
	TotalAmount float64      `json:"totalAmount"`
}

// PricingSnapshot is an immutable view of the catalog at one moment, plus
// the static alias and free-code tables.
type PricingSnapshot struct {
	aliases   map[string]string
	canonical map[string]config.CanonicalTariff
	free      map[string]bool
	active    map[string]model.TariffEntry
}

// resolve maps a requested code to its category code and the active row
// that prices it: alias table first, then the canonical keys, then the
// active catalog.  The row is nil when no active row carries the code.
func (p *PricingSnapshot) resolve(code string) (string, *model.TariffEntry, bool) {
	if to, ok := p.aliases[code]; ok {
		return to, p.row(to), true
	}
	if _, ok := p.canonical[code]; ok {
		return code, p.row(code), true
	}
	if e, ok := p.active[code]; ok {
		return categoryOf(e), &e, true
	}
	return "", nil, false
}

func (p *PricingSnapshot) row(code string) *model.TariffEntry {
	if e, ok := p.active[code]; ok {
		return &e
	}
	return nil
}

// price returns label, category and unit price for a resolved line.
func (p *PricingSnapshot) price(category string, row *model.TariffEntry) (string, string, float64, bool) {
	if p.free[category] {
		c := p.canonical[category]
		return c.Label, c.Category, 0, true
	}
	if row == nil {
		return "", "", 0, false
	}
	return row.Label, row.Category, row.Price, true
}

// ResolveAndPrice prices cart against snap.  maxQty caps the merged
// quantity of each line; zero or less means unlimited.  It has no side
// effects and returns lines in first-seen order.  Amounts are summed in
// whole paise, so the total is the exact sum of the line amounts.
func ResolveAndPrice(cart []CartItem, snap *PricingSnapshot, maxQty int) (PricedCart, error) {
	var order []string
	lines := make(map[string]*PricedItem)
	for _, ci := range cart {
		code := strings.ToLower(strings.TrimSpace(ci.ItemCode))
		if code == "" {
			return PricedCart{}, ErrPricingNotConfigured.withMessage("item code is required")
		}
		qty, err := coerceQuantity(ci.Quantity)
		if err != nil {
			return PricedCart{}, err
		}
		category, row, ok := snap.resolve(code)
		if !ok {
			return PricedCart{}, ErrPricingNotConfigured.withMessage("no active tariff for item %q", code)
		}
		if line, ok := lines[category]; ok {
			line.Quantity += qty
			continue
		}
		label, cat, unit, ok := snap.price(category, row)
		if !ok {
			return PricedCart{}, ErrPricingNotConfigured.withMessage("no active tariff for item %q", code)
		}
		lines[category] = &PricedItem{
			ItemCode:  category,
			Label:     label,
			Category:  cat,
			Quantity:  qty,
			UnitPrice: roundMoney(unit),
		}
		order = append(order, category)
	}
	if len(order) == 0 {
		return PricedCart{}, ErrEmptyCart
	}

	out := PricedCart{Items: make([]PricedItem, 0, len(order))}
	var total int64
	for _, code := range order {
		line := lines[code]
		if maxQty > 0 && line.Quantity > maxQty {
			return PricedCart{}, ErrInvalidQuantity.withMessage("quantity for %q exceeds the limit of %d", code, maxQty)
		}
		amount := toPaise(line.UnitPrice) * int64(line.Quantity)
		line.Amount = fromPaise(amount)
		total += amount
		out.Items = append(out.Items, *line)
	}
	out.TotalAmount = fromPaise(total)
	return out, nil
}

func coerceQuantity(n json.Number) (int, error) {
	s := strings.TrimSpace(n.String())
	if s == "" {
		return 0, ErrInvalidQuantity.withMessage("quantity is required")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrInvalidQuantity.withMessage("quantity %q is not a number", s)
	}
	if f <= 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, ErrInvalidQuantity.withMessage("quantity %q must be a positive whole number", s)
	}
	return int(f), nil
}

func toPaise(v float64) int64 { return int64(math.Round(v * 100)) }

func fromPaise(p int64) float64 { return float64(p) / 100 }

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}

func moneyEqual(a, b float64) bool {
	return math.Abs(a-b) <= moneyTolerance+1e-9
}
