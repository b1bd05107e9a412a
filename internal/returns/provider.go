// Package returns supplies historical daily return series per product,
// derived from stored settlement prices: r[t] = price[t]/price[t-1] - 1.
//
// Missing price history is never a hard failure: the affected product
// gets an empty series and a missing-data warning, so one bad product
// cannot abort the calculation for the rest of the book.
package returns

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oiltrade/risk-engine/internal/model"
	"github.com/oiltrade/risk-engine/internal/store"
)

// DefaultLookbackDays is the default trading-day lookback window.
const DefaultLookbackDays = 252

// MinSeriesPoints is the minimum number of prices needed to derive at
// least one return.
const MinSeriesPoints = 2

// Series is one product's derived return series.
type Series struct {
	Product string    `json:"product"`
	Returns []float64 `json:"returns"` // oldest first
	AsOf    time.Time `json:"as_of"`
}

// Result holds the series for a set of products plus missing-data warnings.
type Result struct {
	Series   map[string][]float64 `json:"series"`
	Warnings []string             `json:"warnings,omitempty"`
}

// Provider derives return series from a price-history store.
type Provider struct {
	store store.Store
}

// NewProvider creates a return series provider.
func NewProvider(st store.Store) *Provider {
	return &Provider{store: st}
}

// Returns fetches price history for each product concurrently and derives
// daily returns. days is the number of returns requested; days+1 prices
// are fetched. A product with fewer than two stored prices yields an
// empty series and a warning.
func (p *Provider) Returns(ctx context.Context, products []string, asOf time.Time, days int) (*Result, error) {
	if days <= 0 {
		days = DefaultLookbackDays
	}

	result := &Result{Series: make(map[string][]float64, len(products))}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, product := range products {
		product := product
		g.Go(func() error {
			points, err := p.store.GetPriceHistory(ctx, product, asOf, days+1)
			if err != nil {
				return fmt.Errorf("fetch history for %s: %w", product, err)
			}

			series := Derive(points)

			mu.Lock()
			defer mu.Unlock()
			result.Series[product] = series
			if len(series) == 0 {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("no usable price history for %s as of %s", product, asOf.Format("2006-01-02")))
				slog.Warn("missing price history",
					"product", product,
					"as_of", asOf.Format("2006-01-02"),
					"points", len(points),
				)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// Derive converts an ascending price series into daily returns.
// Pairs touching a zero or negative price contribute no return; later
// good pairs still do. Fewer than two prices yield an empty series.
func Derive(points []model.PricePoint) []float64 {
	if len(points) < MinSeriesPoints {
		return nil
	}

	series := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev := points[i-1].Price.InexactFloat64()
		curr := points[i].Price.InexactFloat64()
		if prev <= 0 || curr <= 0 {
			continue
		}
		series = append(series, curr/prev-1)
	}
	return series
}
