package http

import (
	"context"
	"sync"

	"liveroom/internal/core/domain"
	"liveroom/internal/core/services"
)

// CoordinatorFactory builds one coordinator for an authenticated
// caller. Wiring of transports, channels and callbacks happens in the
// composition root.
type CoordinatorFactory func(identity domain.Identity) *services.SessionLifecycleCoordinator

// CoordinatorRegistry holds one started coordinator per user. A user
// keeps their coordinator across sessions and calls; it is torn down
// only when the registry closes.
type CoordinatorRegistry struct {
	factory CoordinatorFactory

	mu     sync.Mutex
	coords map[domain.UserID]*services.SessionLifecycleCoordinator
}

func NewCoordinatorRegistry(factory CoordinatorFactory) *CoordinatorRegistry {
	return &CoordinatorRegistry{
		factory: factory,
		coords:  make(map[domain.UserID]*services.SessionLifecycleCoordinator),
	}
}

// For returns the caller's coordinator, creating and starting it on
// first use.
func (r *CoordinatorRegistry) For(ctx context.Context, identity domain.Identity) (*services.SessionLifecycleCoordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if coord, ok := r.coords[identity.ID]; ok {
		return coord, nil
	}

	coord := r.factory(identity)
	if err := coord.Start(ctx); err != nil {
		coord.Close()
		return nil, err
	}
	r.coords[identity.ID] = coord
	return coord, nil
}

// Lookup returns the coordinator without creating one.
func (r *CoordinatorRegistry) Lookup(userID domain.UserID) (*services.SessionLifecycleCoordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	coord, ok := r.coords[userID]
	return coord, ok
}

// Close tears down every coordinator. Used on shutdown.
func (r *CoordinatorRegistry) Close() {
	r.mu.Lock()
	coords := make([]*services.SessionLifecycleCoordinator, 0, len(r.coords))
	for _, coord := range r.coords {
		coords = append(coords, coord)
	}
	r.coords = make(map[domain.UserID]*services.SessionLifecycleCoordinator)
	r.mu.Unlock()

	for _, coord := range coords {
		coord.Close()
	}
}
