// Package catalog implements the Product Catalog: a static,
// read-after-init registry of tradable symbols and their fixed-point
// contract parameters, and the quote-currency conversion policy for
// external prices.
package catalog

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"exchange-core/internal/errs"
)

// Product is immutable at runtime once loaded. Prices are integer ticks;
// quantities are integer lots. TickSize/LotSize convert those units to
// display units only at the adapter boundary.
type Product struct {
	Symbol      string `yaml:"symbol"`
	DisplayName string `yaml:"display_name"`
	QuoteCcy    string `yaml:"quote_currency"`

	// ExternalSymbol is the key the Price Oracle's feed uses for this
	// product; ExternalIsQuoteNative tells the catalog whether that feed
	// already quotes in QuoteCcy or needs reference-rate conversion.
	ExternalSymbol         string `yaml:"external_symbol"`
	ExternalIsQuoteNative bool   `yaml:"external_is_quote_native"`

	ContractSize int64 `yaml:"contract_size"`
	TickSize     int64 `yaml:"tick_size"`
	LotSize      int64 `yaml:"lot_size"`

	LeverageCap           int64 `yaml:"leverage_cap"`
	MaintenanceMarginBps  int64 `yaml:"maintenance_margin_bps"`
	InitialMarginBps      int64 `yaml:"initial_margin_bps"`

	MinOrderQty int64 `yaml:"min_order_qty"`
	MaxOrderQty int64 `yaml:"max_order_qty"`

	// TradingHoursStart/End are minutes-of-day in UTC; equal values mean
	// the product trades 24h.
	TradingHoursStartMin int `yaml:"trading_hours_start_min"`
	TradingHoursEndMin   int `yaml:"trading_hours_end_min"`

	Active    bool `yaml:"active"`
	Hedgeable bool `yaml:"hedgeable"`

	HedgeDeadband        int64         `yaml:"hedge_deadband"`
	HedgeThrottleSeconds int           `yaml:"hedge_throttle_seconds"`
}

// HedgeThrottle returns the product's hedge throttle interval as a Duration.
func (p Product) HedgeThrottle() time.Duration {
	return time.Duration(p.HedgeThrottleSeconds) * time.Second
}

// WithinTradingHours reports whether t (UTC) falls in the product's window.
func (p Product) WithinTradingHours(t time.Time) bool {
	if p.TradingHoursStartMin == p.TradingHoursEndMin {
		return true
	}
	minuteOfDay := t.UTC().Hour()*60 + t.UTC().Minute()
	if p.TradingHoursStartMin < p.TradingHoursEndMin {
		return minuteOfDay >= p.TradingHoursStartMin && minuteOfDay < p.TradingHoursEndMin
	}
	// window wraps midnight
	return minuteOfDay >= p.TradingHoursStartMin || minuteOfDay < p.TradingHoursEndMin
}

// OnTick reports whether price is a multiple of the product's tick size.
func (p Product) OnTick(price int64) bool {
	if p.TickSize <= 0 {
		return true
	}
	return price%p.TickSize == 0
}

// WithinQtyBounds reports whether qty falls within the product's limits.
func (p Product) WithinQtyBounds(qty int64) bool {
	return qty >= p.MinOrderQty && qty <= p.MaxOrderQty
}

// RequiredInitialMargin computes notional*InitialMarginBps/10000, rounded
// up to the smallest quote-currency unit.
func (p Product) RequiredInitialMargin(price, qty int64) int64 {
	return bpsOfCeil(price*qty, p.InitialMarginBps)
}

// RequiredMaintenanceMargin computes notional*MaintenanceMarginBps/10000,
// rounded up, optionally inflated by a liquidation buffer in bps.
func (p Product) RequiredMaintenanceMargin(price, qty, bufferBps int64) int64 {
	return bpsOfCeil(price*qty, p.MaintenanceMarginBps+bufferBps)
}

func bpsOfCeil(notional, bps int64) int64 {
	if notional < 0 {
		notional = -notional
	}
	num := notional * bps
	if num <= 0 {
		return 0
	}
	q := num / 10000
	if num%10000 != 0 {
		q++
	}
	return q
}

// Catalog is the frozen, read-only registry. Safe for concurrent reads.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]Product
	refRate  refRate
}

type refRate struct {
	rate      float64
	updatedAt time.Time
}

// New creates an empty catalog (mainly for tests); production code uses Load.
func New() *Catalog {
	return &Catalog{products: make(map[string]Product)}
}

// Load reads a YAML seed file of products and freezes them into a Catalog.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed struct {
		Products []Product `yaml:"products"`
	}
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, err
	}
	c := New()
	for _, p := range seed.Products {
		c.products[p.Symbol] = p
	}
	return c, nil
}

// Put registers or replaces a product (used by tests and the administrative
// channel that lets the catalog change post-boot).
func (c *Catalog) Put(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.Symbol] = p
}

// Get looks up a product by symbol.
func (c *Catalog) Get(symbol string) (Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[symbol]
	if !ok {
		return Product{}, errs.ErrSymbolUnknown
	}
	return p, nil
}

// ActiveSymbols returns all symbols with Active=true.
func (c *Catalog) ActiveSymbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.products))
	for sym, p := range c.products {
		if p.Active {
			out = append(out, sym)
		}
	}
	return out
}

// HedgeableSymbols returns all symbols with Hedgeable=true.
func (c *Catalog) HedgeableSymbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.products))
	for sym, p := range c.products {
		if p.Hedgeable {
			out = append(out, sym)
		}
	}
	return out
}

// SetReferenceRate updates the external->quote-currency conversion scalar.
func (c *Catalog) SetReferenceRate(rate float64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refRate = refRate{rate: rate, updatedAt: ts}
}

// ConvertExternalPrice converts an external price into quote currency per
// the product's conversion policy: identity if the feed is already quote
// native, otherwise multiplied by the current reference rate. Returns
// whether the rate used was stale relative to staleThreshold.
func (c *Catalog) ConvertExternalPrice(symbol string, externalPrice float64, now time.Time, staleThreshold time.Duration) (converted float64, stale bool, err error) {
	p, err := c.Get(symbol)
	if err != nil {
		return 0, false, err
	}
	if p.ExternalIsQuoteNative {
		return externalPrice, false, nil
	}
	c.mu.RLock()
	rr := c.refRate
	c.mu.RUnlock()
	stale = rr.updatedAt.IsZero() || now.Sub(rr.updatedAt) > staleThreshold
	return externalPrice * rr.rate, stale, nil
}
