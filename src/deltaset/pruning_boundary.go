package deltaset

// PruningBoundary is an optional height threshold. When set, a commit drops
// cache entries whose pruning height is at or below the boundary.
type PruningBoundary struct {
	set   bool
	value uint64
}

// NewPruningBoundary creates a set pruning boundary around value.
func NewPruningBoundary(value uint64) PruningBoundary {
	return PruningBoundary{set: true, value: value}
}

// IsSet returns true if the pruning boundary value is set.
func (p PruningBoundary) IsSet() bool {
	return p.set
}

// Value returns the pruning boundary value.
func (p PruningBoundary) Value() uint64 {
	return p.value
}
