package bastion

import "context"

// Cache provides caching for evaluation decisions.
//
// The revision is the rule index revision the decision was computed
// against. Every rule write bumps the revision, so a cache never serves a
// decision computed before the write.
type Cache interface {
	// Get returns a cached decision, if available.
	Get(ctx context.Context, revision uint64, req *Request) (*Decision, bool)

	// Set stores a decision in the cache.
	Set(ctx context.Context, revision uint64, req *Request, d *Decision)

	// Purge removes all cached decisions.
	Purge(ctx context.Context)
}
