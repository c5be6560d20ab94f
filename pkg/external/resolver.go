package external

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Resolver errors
var (
	ErrImageNotFound = errors.New("image not found")
	ErrUnauthorized  = errors.New("unauthorized")
)

// Descriptor is an immutable content descriptor for an image reference.
// Tasks are always created from the pinned form so a rollout replaces
// tasks even when the operator reuses a moving tag.
type Descriptor struct {
	Reference string
	Digest    string
}

// Pinned returns the reference with its digest appended
func (d Descriptor) Pinned() string {
	if d.Digest == "" {
		return d.Reference
	}
	return d.Reference + "@" + d.Digest
}

// Resolver resolves an image reference through an image distribution
// service. The orchestrator consumes this interface; it never owns the
// distribution logic.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (Descriptor, error)
}

// StaticResolver resolves from a fixed reference -> digest table.
// Unknown references fail with ErrImageNotFound.
type StaticResolver struct {
	mu      sync.RWMutex
	digests map[string]string
}

// NewStaticResolver creates a resolver over the given table
func NewStaticResolver(digests map[string]string) *StaticResolver {
	if digests == nil {
		digests = make(map[string]string)
	}
	return &StaticResolver{digests: digests}
}

// Add registers a reference
func (r *StaticResolver) Add(ref, digest string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.digests[ref] = digest
}

// Resolve implements Resolver
func (r *StaticResolver) Resolve(_ context.Context, ref string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	digest, ok := r.digests[ref]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrImageNotFound, ref)
	}
	return Descriptor{Reference: ref, Digest: digest}, nil
}

// LocalResolver pins references by hashing them. It stands in for a
// real distribution service in single-binary development mode: the
// mapping is deterministic and every distinct reference gets a distinct
// digest.
type LocalResolver struct{}

// Resolve implements Resolver
func (LocalResolver) Resolve(_ context.Context, ref string) (Descriptor, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Descriptor{}, fmt.Errorf("%w: empty reference", ErrImageNotFound)
	}
	sum := sha256.Sum256([]byte(ref))
	return Descriptor{
		Reference: ref,
		Digest:    fmt.Sprintf("sha256:%x", sum),
	}, nil
}
