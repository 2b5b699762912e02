package schema

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ledger/pkg/logging"
	"github.com/ekaya-inc/ekaya-ledger/pkg/metrics"
	"github.com/ekaya-inc/ekaya-ledger/pkg/models"
)

const (
	DefaultTTL         = 5 * time.Minute
	DefaultFallbackTTL = 30 * time.Second
)

// Schema maps each logical table to its metadata keys, sorted.
type Schema map[models.SourceTable][]string

// Discoverer reads the live metadata keys per table from the document store.
type Discoverer interface {
	DiscoverKeys(ctx context.Context) (Schema, error)
}

// fallbackSchema is used whenever discovery fails or returns nothing.
var fallbackSchema = Schema{
	models.SourceExpenses:      {"Category", "Expenses", "Name"},
	models.SourceCashFlow:      {"Type", "Amount", "Category"},
	models.SourceProject:       {"project_name", "client_name", "location", "status"},
	models.SourceQuotation:     {"quote_number", "status", "total_amount", "project_name"},
	models.SourceQuotationItem: {"plate_no", "dr_no", "material", "quarry_location", "truck_type", "volume", "line_total"},
}

// numericKeys need a ::numeric cast when aggregated. The set is global across tables.
var numericKeys = map[string]struct{}{
	"Expenses":     {},
	"Amount":       {},
	"total_amount": {},
	"volume":       {},
	"line_total":   {},
}

// FallbackSchema returns a copy of the fixed reference schema.
func FallbackSchema() Schema {
	return fallbackSchema.clone()
}

type snapshot struct {
	schema     Schema
	capturedAt time.Time
	ttl        time.Duration
	fallback   bool
}

func (s *snapshot) expired(now time.Time) bool {
	return s == nil || now.Sub(s.capturedAt) >= s.ttl
}

// Registry caches the per-table metadata keys. Snapshots are replaced wholesale,
// never mutated. Two callers that both see an expired snapshot may both refresh;
// the last one to finish wins.
type Registry struct {
	discoverer  Discoverer
	ttl         time.Duration
	fallbackTTL time.Duration
	keywords    *Keywords
	logger      *zap.Logger
	metrics     *metrics.Recorder
	now         func() time.Time

	mu      sync.RWMutex
	current *snapshot
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL overrides the discovered and fallback snapshot lifetimes.
func WithTTL(ttl, fallbackTTL time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
		if fallbackTTL > 0 {
			r.fallbackTTL = fallbackTTL
		}
	}
}

// WithKeywords replaces the table-detection keyword map.
func WithKeywords(k *Keywords) Option {
	return func(r *Registry) {
		if k != nil {
			r.keywords = k
		}
	}
}

// WithMetrics records snapshot refreshes.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry. A nil discoverer always serves the fallback schema.
func NewRegistry(discoverer Discoverer, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		discoverer:  discoverer,
		ttl:         DefaultTTL,
		fallbackTTL: DefaultFallbackTTL,
		keywords:    DefaultKeywords(),
		logger:      logger.Named("schema"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetSchema returns the current schema, refreshing it first if it has expired.
// It never fails: discovery errors fall back to the reference schema.
func (r *Registry) GetSchema(ctx context.Context) Schema {
	return r.live(ctx).schema.clone()
}

// GetMetadataKeys returns the keys for table, or an empty slice for an unknown table.
func (r *Registry) GetMetadataKeys(ctx context.Context, table models.SourceTable) []string {
	keys := r.live(ctx).schema[table]
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// GetNumericKeys returns the keys that are cast to numeric inside aggregates.
func (r *Registry) GetNumericKeys() []string {
	out := make([]string, 0, len(numericKeys))
	for k := range numericKeys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsNumericKey reports whether key is in the numeric policy set.
func (r *Registry) IsNumericKey(key string) bool {
	_, ok := numericKeys[key]
	return ok
}

// DetectSourceTable returns the only table whose keywords appear in text.
// Zero or several matching tables give ok=false.
func (r *Registry) DetectSourceTable(text string) (models.SourceTable, bool) {
	return r.keywords.Detect(text)
}

// InvalidateCache drops the snapshot so the next read re-discovers.
func (r *Registry) InvalidateCache() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
	r.logger.Debug("Schema cache invalidated")
}

// IsFallback reports whether the live snapshot came from the reference schema.
func (r *Registry) IsFallback(ctx context.Context) bool {
	return r.live(ctx).fallback
}

func (r *Registry) live(ctx context.Context) *snapshot {
	r.mu.RLock()
	snap := r.current
	r.mu.RUnlock()

	if !snap.expired(r.now()) {
		return snap
	}

	snap = r.refresh(ctx)

	r.mu.Lock()
	r.current = snap
	r.mu.Unlock()
	return snap
}

func (r *Registry) refresh(ctx context.Context) *snapshot {
	now := r.now()

	if r.discoverer != nil {
		discovered, err := r.discoverer.DiscoverKeys(ctx)
		if err != nil {
			r.logger.Warn("Schema discovery failed, using fallback schema",
				zap.String("error", logging.SanitizeError(err)),
				zap.Duration("retry_in", r.fallbackTTL))
		} else if schema := discovered.normalized(); len(schema) == 0 {
			r.logger.Warn("Schema discovery returned no tables, using fallback schema")
		} else {
			r.metrics.SchemaRefreshed("discovered")
			r.logger.Debug("Schema discovered", zap.Int("tables", len(schema)))
			return &snapshot{schema: schema, capturedAt: now, ttl: r.ttl}
		}
	}

	r.metrics.SchemaRefreshed("fallback")
	return &snapshot{schema: fallbackSchema.clone(), capturedAt: now, ttl: r.fallbackTTL, fallback: true}
}

// Tables returns the table names in sorted order.
func (s Schema) Tables() []models.SourceTable {
	out := make([]models.SourceTable, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Schema) clone() Schema {
	out := make(Schema, len(s))
	for t, keys := range s {
		cp := make([]string, len(keys))
		copy(cp, keys)
		out[t] = cp
	}
	return out
}

// normalized drops blank tables and keys, de-duplicates and sorts.
func (s Schema) normalized() Schema {
	out := make(Schema, len(s))
	for t, keys := range s {
		name := models.SourceTable(strings.TrimSpace(string(t)))
		if name == "" {
			continue
		}
		seen := make(map[string]struct{}, len(keys))
		var clean []string
		for _, k := range keys {
			k = strings.TrimSpace(k)
			if k == "" {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			clean = append(clean, k)
		}
		if len(clean) == 0 {
			continue
		}
		sort.Strings(clean)
		out[name] = clean
	}
	return out
}
