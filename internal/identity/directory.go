package identity

import (
	"fmt"
	"sync"

	"github.com/soulline/lifeline/internal/roles"
)

// Actor is a resolved caller identity with its capability set attached.
// Handlers resolve it once per request and pass it into every operation.
type Actor struct {
	ID           string
	Role         roles.Role
	Capabilities roles.Capabilities
}

// NewActor builds an Actor with capabilities resolved from the role.
func NewActor(id string, role roles.Role) Actor {
	return Actor{ID: id, Role: role, Capabilities: roles.CapabilitiesFor(role)}
}

// Directory resolves actor identities and role availability. The real
// implementation lives in the platform's identity service; the call engine
// only depends on this narrow surface.
type Directory interface {
	// Resolve maps an actor id to its role.
	Resolve(actorID string) (roles.Role, error)
	// Available reports whether at least one holder of the role can take a call.
	Available(role roles.Role) bool
}

// MemoryDirectory is an in-memory Directory used in tests and single-node
// deployments where presence is pushed in by the platform.
type MemoryDirectory struct {
	mu        sync.RWMutex
	actors    map[string]roles.Role
	available map[roles.Role]int
}

// NewMemoryDirectory constructs an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		actors:    make(map[string]roles.Role),
		available: make(map[roles.Role]int),
	}
}

// Register adds or updates an actor's role.
func (d *MemoryDirectory) Register(actorID string, role roles.Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[actorID] = role
}

// SetAvailable records how many holders of the role are currently reachable.
func (d *MemoryDirectory) SetAvailable(role roles.Role, count int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if count < 0 {
		count = 0
	}
	d.available[role] = count
}

// Resolve implements Directory.
func (d *MemoryDirectory) Resolve(actorID string) (roles.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	role, ok := d.actors[actorID]
	if !ok {
		return "", fmt.Errorf("identity: unknown actor %q", actorID)
	}
	return role, nil
}

// Available implements Directory.
func (d *MemoryDirectory) Available(role roles.Role) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.available[role] > 0
}
