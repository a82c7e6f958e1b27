// Package authz decides whether a caller may perform an action.  Decide is
// a pure function of its arguments; handlers evaluate it before calling
// into the core and render a denial themselves.
package authz

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/iliyamo/import-brokerage/internal/model"
)

// Caller is the authenticated identity.
type Caller struct {
	UserID uuid.UUID
	Role   model.Role
}

// Action names an operation.
type Action string

const (
	ViewOrder       Action = "order:view"
	PlaceOrder      Action = "order:create"
	TransitionOrder Action = "order:transition"
	InitiatePayment Action = "payment:initiate"
	ManageSessions  Action = "session:manage"
)

// Resource describes what the action touches.  OwnerID is the order's
// customer or the sessions' user; Status and Target are only read for
// TransitionOrder.
type Resource struct {
	OwnerID uuid.UUID
	Status  model.OrderStatus
	Target  model.OrderStatus
}

// Decision is the outcome of Decide.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }
func deny(f string, a ...any) Decision { return Decision{Reason: fmt.Sprintf(f, a...)} }

// stage maps each transition target to the role that drives it.
var stage = map[model.OrderStatus]model.Role{
	model.StatusLCRequested:                  model.RoleFinancePartner,
	model.StatusLCApproved:                   model.RoleFinancePartner,
	model.StatusLCRejected:                   model.RoleFinancePartner,
	model.StatusAssignedToExporter:           model.RoleExporter,
	model.StatusShipmentDocsUploaded:         model.RoleExporter,
	model.StatusAwaitingShipmentConfirmation: model.RoleExporter,
	model.StatusShipped:                      model.RoleExporter,
	model.StatusInTransit:                    model.RoleClearingAgent,
	model.StatusArrivedAtPort:                model.RoleClearingAgent,
	model.StatusCustomsClearance:             model.RoleClearingAgent,
	model.StatusDelivered:                    model.RoleClearingAgent,
}

// Decide evaluates the policy.  Administrators may do anything.
func Decide(c Caller, a Action, r Resource) Decision {
	if !c.Role.Valid() || c.UserID == uuid.Nil {
		return deny("unauthenticated")
	}
	if c.Role == model.RoleAdmin {
		return allow()
	}
	owner := r.OwnerID != uuid.Nil && r.OwnerID == c.UserID

	switch a {
	case ViewOrder:
		if owner || c.Role != model.RoleCustomer {
			return allow()
		}
		return deny("not your order")
	case PlaceOrder:
		if c.Role == model.RoleCustomer {
			return allow()
		}
		return deny("only customers place orders")
	case InitiatePayment:
		if c.Role == model.RoleCustomer && owner {
			return allow()
		}
		return deny("only the ordering customer may pay")
	case ManageSessions:
		if owner {
			return allow()
		}
		return deny("not your sessions")
	case TransitionOrder:
		return decideTransition(c, r, owner)
	}
	return deny("unknown action %q", a)
}

func decideTransition(c Caller, r Resource, owner bool) Decision {
	if r.Target == model.StatusCancelled {
		if c.Role == model.RoleCustomer && owner && r.Status == model.StatusCreated {
			return allow()
		}
		return deny("only the customer may cancel, and only before payment")
	}
	want, ok := stage[r.Target]
	if !ok {
		return deny("%s is set by the system", r.Target)
	}
	if c.Role != want {
		return deny("%s may not move an order to %s", c.Role, r.Target)
	}
	return allow()
}
