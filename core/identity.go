/*
identity.go - Acting user identity from the external identity collaborator

PURPOSE:
  The engine does not authenticate anyone. An upstream identity provider
  resolves the caller; the api layer translates that into an Actor which is
  threaded through every mutating operation for authorization checks and
  audit attribution.

AUTHORIZATION MODEL:
  Two roles only. Manager-only operations (bonus disposition, redistribution
  create/cancel, budget-check bypass) call RequireManager and fail with an
  AuthorizationError otherwise.
*/
package core

type Role string

const (
	RoleStaff   Role = "staff"
	RoleManager Role = "manager"
)

// Actor is the acting user as reported by the identity collaborator.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsManager() bool { return a.Role == RoleManager }

// RequireManager fails with an AuthorizationError naming the operation when
// the actor is not a manager.
func RequireManager(a Actor, operation string) error {
	if !a.IsManager() {
		return &AuthorizationError{ActorID: a.ID, Operation: operation}
	}
	return nil
}
