package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role is the closed set of roles an actor can hold.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RolePatient      Role = "patient"
	RoleReceptionist Role = "receptionist"
)

// ParseRole converts a claim value into a Role. Unknown values are rejected.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleDoctor, RolePatient, RoleReceptionist:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// IsStaff reports whether the role administers bookings on behalf of others.
func (r Role) IsStaff() bool {
	switch r {
	case RoleAdmin, RoleReceptionist:
		return true
	default:
		return false
	}
}

// Actor is the authenticated identity performing an operation. For doctors
// and patients ID is the doctor or patient id the token was issued for.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

func (a Actor) String() string {
	return string(a.Role) + ":" + a.ID.String()
}

type contextKey string

const actorKey contextKey = "actor"

// WithActor returns a copy of ctx carrying the actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext returns the actor stored by the auth middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}
