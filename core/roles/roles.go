// core/roles/roles.go

// Capability/role boundary. The engine consults this before every mutating
// operation but never stores or manages roles itself; the static registry
// here exists for wiring and tests.

package roles

import "sync"

// Role names recognized by the protocol
const (
	Relayer        = "relayer"
	Admin          = "admin"
	EmergencyAdmin = "emergency_admin"
	Institution    = "institution"
	Guardian       = "guardian"
)

// Authority answers capability checks for actors
type Authority interface {
	HasCapability(actor, role string) bool
}

// StaticAuthority is an in-memory role registry
type StaticAuthority struct {
	grants map[string]map[string]struct{} // actor -> roles
	mu     sync.RWMutex
}

// NewStaticAuthority creates an empty role registry
func NewStaticAuthority() *StaticAuthority {
	return &StaticAuthority{
		grants: make(map[string]map[string]struct{}),
	}
}

// Grant gives actor a role
func (a *StaticAuthority) Grant(actor, role string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.grants[actor] == nil {
		a.grants[actor] = make(map[string]struct{})
	}
	a.grants[actor][role] = struct{}{}
}

// Revoke removes a role from actor
func (a *StaticAuthority) Revoke(actor, role string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.grants[actor], role)
}

// HasCapability reports whether actor holds role
func (a *StaticAuthority) HasCapability(actor, role string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	_, ok := a.grants[actor][role]
	return ok
}
