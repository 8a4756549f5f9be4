package batch

// SkipPolicy decides whether an item bypasses processing entirely. It is
// evaluated before the concurrency-gated phase; a skipped item never reaches
// the Processor or consumes a permit. Implementations must be pure and
// synchronous.
type SkipPolicy interface {
	ShouldSkip(item Item, opts Options) bool
}

// ActivePolicy is the default SkipPolicy: inactive items are skipped unless
// the run forces a refresh.
type ActivePolicy struct{}

// NewActivePolicy creates an ActivePolicy.
func NewActivePolicy() *ActivePolicy {
	return &ActivePolicy{}
}

// ShouldSkip reports whether the item should bypass processing.
func (ActivePolicy) ShouldSkip(item Item, opts Options) bool {
	return !item.Active && !opts.ForceRefresh
}
