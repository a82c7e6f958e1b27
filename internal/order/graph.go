package order

import "github.com/iliyamo/import-brokerage/internal/model"

// forward holds the pipeline edges.  CANCELLED is added to every
// non-terminal state by AllowedNextStates.
var forward = map[model.OrderStatus][]model.OrderStatus{
	model.StatusCreated:                      {model.StatusPaymentConfirmed},
	model.StatusPaymentConfirmed:             {model.StatusLCRequested},
	model.StatusLCRequested:                  {model.StatusLCApproved, model.StatusLCRejected},
	model.StatusLCRejected:                   {model.StatusLCRequested},
	model.StatusLCApproved:                   {model.StatusAssignedToExporter},
	model.StatusAssignedToExporter:           {model.StatusShipmentDocsUploaded},
	model.StatusShipmentDocsUploaded:         {model.StatusAwaitingShipmentConfirmation},
	model.StatusAwaitingShipmentConfirmation: {model.StatusShipped},
	model.StatusShipped:                      {model.StatusInTransit},
	model.StatusInTransit:                    {model.StatusArrivedAtPort},
	model.StatusArrivedAtPort:                {model.StatusCustomsClearance},
	model.StatusCustomsClearance:             {model.StatusDelivered},
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s model.OrderStatus) bool {
	return s == model.StatusDelivered || s == model.StatusCancelled
}

// AllowedNextStates returns the statuses reachable from current in one step.
// The result is a fresh slice; unknown and terminal statuses yield none.
func AllowedNextStates(current model.OrderStatus) []model.OrderStatus {
	if IsTerminal(current) || !current.Valid() {
		return []model.OrderStatus{}
	}
	next := append([]model.OrderStatus{}, forward[current]...)
	return append(next, model.StatusCancelled)
}

// IsValidTransition reports whether to is adjacent to from.
func IsValidTransition(from, to model.OrderStatus) bool {
	for _, s := range AllowedNextStates(from) {
		if s == to {
			return true
		}
	}
	return false
}

// RequiresPayment reports whether entering to needs a COMPLETED payment.
// Every status past CREATED does, except CANCELLED.
func RequiresPayment(to model.OrderStatus) bool {
	return to != model.StatusCreated && to != model.StatusCancelled
}

// Graph returns the full adjacency table, for clients rendering the
// pipeline.
func Graph() map[model.OrderStatus][]model.OrderStatus {
	out := make(map[model.OrderStatus][]model.OrderStatus, len(model.OrderStatuses))
	for _, s := range model.OrderStatuses {
		out[s] = AllowedNextStates(s)
	}
	return out
}
