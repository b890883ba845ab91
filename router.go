package payable

import (
	"sync"
	"time"
)

// Backend classifies where a capability executes. It is a static property of
// the capability, not of the chosen tool: capabilities that need no external
// system are LOCAL, everything else is EXTERNAL. Dispatch to an actual
// endpoint is a collaborator's concern; the core only carries the tag.
type Backend string

const (
	BackendLocal    Backend = "LOCAL"
	BackendExternal Backend = "EXTERNAL"
)

// Capability names known to the default router registry.
const (
	CapabilityOCR        = "ocr"
	CapabilityEnrichment = "enrichment"
	CapabilityERP        = "erp_connector"
	CapabilityStorage    = "storage"
	CapabilityDB         = "db"
	CapabilityEmail      = "email"
)

// ToolAttributes are the static per-tool classes the scoring policy reads.
type ToolAttributes struct {
	Latency   string `json:"latency" yaml:"latency"`
	Cost      string `json:"cost" yaml:"cost"`
	Accuracy  string `json:"accuracy" yaml:"accuracy"`
	Available bool   `json:"available" yaml:"available"`
}

// CapabilitySpec declares one capability in the router registry.
type CapabilitySpec struct {
	Backend     Backend  `json:"backend" yaml:"backend"`
	DefaultPool []string `json:"default_pool" yaml:"default_pool"`
}

// Selection is the decision record produced by one Select call. It is folded
// into the workflow state's selection map and audit log, and into the
// process-wide selection log; it is not persisted on its own.
type Selection struct {
	Capability string            `json:"capability"`
	Chosen     string            `json:"chosen"`
	Backend    Backend           `json:"backend"`
	Hints      map[string]string `json:"hints,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Class ranks. Higher is better. Unknown class names rank below everything,
// keeping scoring total and deterministic.
var (
	latencyRank  = map[string]int{"very_fast": 3, "fast": 2, "medium": 1, "slow": 0}
	costRank     = map[string]int{"free": 3, "low": 2, "medium": 1, "high": 0}
	accuracyRank = map[string]int{"high": 2, "medium": 1, "low": 0}
)

// weightProfile is the (latency, cost, accuracy) weighting for one priority
// hint.
type weightProfile struct{ latency, cost, accuracy int }

var weightProfiles = map[string]weightProfile{
	"speed":    {latency: 4, cost: 1, accuracy: 1},
	"cost":     {latency: 1, cost: 4, accuracy: 1},
	"accuracy": {latency: 1, cost: 1, accuracy: 4},
}

var balancedProfile = weightProfile{latency: 1, cost: 1, accuracy: 1}

// Router maps an abstract capability to a concrete tool and a backend tag.
// It performs no I/O; both failure modes are caller programming errors.
type Router struct {
	capabilities map[string]CapabilitySpec
	catalog      map[string]ToolAttributes
	now          func() time.Time
}

// RouterOptions configure a Router.
type RouterOptions struct {
	Capabilities map[string]CapabilitySpec
	Catalog      map[string]ToolAttributes

	// Clock stamps selection records. Defaults to time.Now.
	Clock func() time.Time
}

// NewRouter returns a Router over the given registry and tool catalog.
func NewRouter(opts RouterOptions) *Router {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Router{
		capabilities: opts.Capabilities,
		catalog:      opts.Catalog,
		now:          opts.Clock,
	}
}

// NewDefaultRouter returns a Router loaded with the standard invoice
// processing capability registry and tool catalog.
func NewDefaultRouter() *Router {
	return NewRouter(RouterOptions{
		Capabilities: map[string]CapabilitySpec{
			CapabilityOCR:        {Backend: BackendExternal, DefaultPool: []string{"tesseract", "google_vision", "aws_textract"}},
			CapabilityEnrichment: {Backend: BackendExternal, DefaultPool: []string{"clearbit", "people_data_labs", "vendor_db"}},
			CapabilityERP:        {Backend: BackendExternal, DefaultPool: []string{"sap_sandbox", "netsuite", "mock_erp"}},
			CapabilityEmail:      {Backend: BackendExternal, DefaultPool: []string{"sendgrid", "smartlead", "ses"}},
			CapabilityStorage:    {Backend: BackendLocal, DefaultPool: []string{"s3", "gcs", "local_fs"}},
			CapabilityDB:         {Backend: BackendLocal, DefaultPool: []string{"postgres", "sqlite", "dynamodb"}},
		},
		Catalog: map[string]ToolAttributes{
			"google_vision":    {Latency: "medium", Cost: "high", Accuracy: "high", Available: true},
			"tesseract":        {Latency: "fast", Cost: "free", Accuracy: "medium", Available: true},
			"aws_textract":     {Latency: "medium", Cost: "medium", Accuracy: "high", Available: true},
			"clearbit":         {Latency: "fast", Cost: "high", Accuracy: "high", Available: true},
			"people_data_labs": {Latency: "fast", Cost: "medium", Accuracy: "medium", Available: true},
			"vendor_db":        {Latency: "very_fast", Cost: "free", Accuracy: "medium", Available: true},
			"sap_sandbox":      {Latency: "medium", Cost: "free", Accuracy: "high", Available: true},
			"netsuite":         {Latency: "medium", Cost: "medium", Accuracy: "high", Available: true},
			"mock_erp":         {Latency: "very_fast", Cost: "free", Accuracy: "high", Available: true},
			"s3":               {Latency: "fast", Cost: "low", Accuracy: "high", Available: true},
			"gcs":              {Latency: "fast", Cost: "low", Accuracy: "high", Available: true},
			"local_fs":         {Latency: "very_fast", Cost: "free", Accuracy: "high", Available: true},
			"postgres":         {Latency: "fast", Cost: "medium", Accuracy: "high", Available: true},
			"sqlite":           {Latency: "very_fast", Cost: "free", Accuracy: "high", Available: true},
			"dynamodb":         {Latency: "fast", Cost: "low", Accuracy: "high", Available: false},
			"sendgrid":         {Latency: "fast", Cost: "medium", Accuracy: "high", Available: true},
			"smartlead":        {Latency: "medium", Cost: "medium", Accuracy: "high", Available: false},
			"ses":              {Latency: "fast", Cost: "low", Accuracy: "high", Available: true},
		},
	})
}

// DefaultPool returns the registered default candidate pool for a capability.
func (r *Router) DefaultPool(capability string) ([]string, error) {
	spec, ok := r.capabilities[capability]
	if !ok {
		return nil, NewError(ErrorTypeUnknownCapability, "capability %q is not registered", capability)
	}
	pool := make([]string, len(spec.DefaultPool))
	copy(pool, spec.DefaultPool)
	return pool, nil
}

// Select picks the highest scoring candidate for a capability. Scoring is a
// pure function of the context hints and the catalog's static attributes;
// ties are broken by candidate pool order, so identical inputs always produce
// identical output. Unavailable tools are skipped.
func (r *Router) Select(capability string, hints map[string]string, pool []string) (Selection, error) {
	spec, ok := r.capabilities[capability]
	if !ok {
		return Selection{}, NewError(ErrorTypeUnknownCapability, "capability %q is not registered", capability)
	}
	if len(pool) == 0 {
		return Selection{}, NewError(ErrorTypeEmptyCandidatePool, "no candidates supplied for capability %q", capability)
	}

	profile := balancedProfile
	if p, ok := weightProfiles[hints["priority"]]; ok {
		profile = p
	}

	chosen := ""
	best := -1
	for _, name := range pool {
		attrs, ok := r.catalog[name]
		if !ok {
			return Selection{}, NewError(ErrorTypeUnknownTool, "tool %q is not in the catalog", name)
		}
		if !attrs.Available {
			continue
		}
		score := profile.latency*latencyRank[attrs.Latency] +
			profile.cost*costRank[attrs.Cost] +
			profile.accuracy*accuracyRank[attrs.Accuracy]
		// Strict inequality keeps the first-listed candidate on ties.
		if score > best {
			best = score
			chosen = name
		}
	}
	if chosen == "" {
		return Selection{}, NewError(ErrorTypeEmptyCandidatePool, "no available candidates for capability %q", capability)
	}

	hintsCopy := make(map[string]string, len(hints))
	for k, v := range hints {
		hintsCopy[k] = v
	}
	return Selection{
		Capability: capability,
		Chosen:     chosen,
		Backend:    spec.Backend,
		Hints:      hintsCopy,
		Timestamp:  r.now().UTC(),
	}, nil
}

// SelectionLog is process-wide observability state: an append-only trail of
// every selection made across runs, independent of any single workflow's
// lifecycle and of the checkpoint store.
type SelectionLog struct {
	mutex   sync.RWMutex
	entries []Selection
	byKey   map[string]string
}

// NewSelectionLog returns an empty selection log.
func NewSelectionLog() *SelectionLog {
	return &SelectionLog{byKey: map[string]string{}}
}

// Record appends a selection under the given key ("STAGE_capability").
func (l *SelectionLog) Record(key string, sel Selection) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.entries = append(l.entries, sel)
	l.byKey[key] = sel.Chosen
}

// History returns the aggregated selection-key to tool-name mapping.
func (l *SelectionLog) History() map[string]string {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	out := make(map[string]string, len(l.byKey))
	for k, v := range l.byKey {
		out[k] = v
	}
	return out
}

// Entries returns a copy of the full append-only selection trail.
func (l *SelectionLog) Entries() []Selection {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	out := make([]Selection, len(l.entries))
	copy(out, l.entries)
	return out
}
