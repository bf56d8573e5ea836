// Package tenant carries the caller identity that every service and repository
// call takes as an explicit argument. Nothing in the module reads the tenant from
// shared or global state.
package tenant

import "errors"

// ErrMissingProjectKey is returned when a call arrives without a tenant
var ErrMissingProjectKey = errors.New("project key is required")

// Tenant identifies the project a call operates on and who made it
type Tenant struct {
	ProjectKey string
	Actor      string // user or client id; empty for system calls
}

// New builds a Tenant
func New(projectKey, actor string) Tenant {
	return Tenant{ProjectKey: projectKey, Actor: actor}
}

// System builds a Tenant for background work with no human actor
func System(projectKey string) Tenant {
	return Tenant{ProjectKey: projectKey}
}

// Validate reports ErrMissingProjectKey for an empty project key
func (t Tenant) Validate() error {
	if t.ProjectKey == "" {
		return ErrMissingProjectKey
	}
	return nil
}

// ActorRef returns the actor as a nullable column value
func (t Tenant) ActorRef() *string {
	if t.Actor == "" {
		return nil
	}
	a := t.Actor
	return &a
}
