// Package extract holds the pluggable fetch+parse strategies and the
// registry that maps source keys to them.
package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/sells-group/taxbill-cli/internal/model"
	"github.com/sells-group/taxbill-cli/internal/resilience"
)

// Strategy is the fetch+parse contract for one source. Strategies do no
// retrying, rate limiting, or validation; the engine orchestrates
// those around each call.
type Strategy interface {
	// Name identifies the strategy in logs and results.
	Name() string
	// FetchAndParse fetches the item's target through the pooled session
	// and parses the raw fields out of the response.
	FetchAndParse(ctx context.Context, item model.WorkItem, sess *resilience.Session) (model.RawFields, error)
}

// Registry maps source keys to strategies. Registration is static at
// startup; unresolved keys fall back to the generic strategy.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	fallback   Strategy
}

// NewRegistry creates a registry with the given fallback strategy.
func NewRegistry(fallback Strategy) *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		fallback:   fallback,
	}
}

// Register binds a source key to a strategy. Later registrations for
// the same key win; registration after startup is not supported.
func (r *Registry) Register(sourceKey string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[strings.ToLower(sourceKey)] = s
}

// Resolve returns the strategy for a source key, or the fallback.
func (r *Registry) Resolve(sourceKey string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.strategies[strings.ToLower(sourceKey)]; ok {
		return s
	}
	return r.fallback
}

// Keys returns the registered source keys.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		keys = append(keys, k)
	}
	return keys
}

// DefaultRegistry wires the strategies for known county portals around
// a shared fetcher, with the generic strategy as fallback.
func DefaultRegistry(f *Fetcher) *Registry {
	r := NewRegistry(NewGenericStrategy(f))
	r.Register("actweb.acttax.com", NewActTaxStrategy(f))
	r.Register("wilsonnc.devnetwedge.com", NewWedgeStrategy(f))
	return r
}

var dollarAmountRe = regexp.MustCompile(`\$[\d,]+\.?\d*`)

// extractDollarAmounts returns all dollar-formatted amounts in text.
func extractDollarAmounts(text string) []string {
	return dollarAmountRe.FindAllString(text, -1)
}

// filterTaxAmounts keeps amounts inside the plausible tax window,
// dropping values that are more likely assessed property values or
// line-item cents.
func filterTaxAmounts(amounts []string, minVal, maxVal float64) []string {
	var filtered []string
	for _, amount := range amounts {
		cleaned := strings.NewReplacer("$", "", ",", "").Replace(amount)
		value, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			continue
		}
		if value > minVal && value < maxVal {
			filtered = append(filtered, amount)
		}
	}
	return filtered
}
