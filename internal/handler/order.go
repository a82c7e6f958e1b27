package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/import-brokerage/internal/apperr"
	"github.com/iliyamo/import-brokerage/internal/authz"
	"github.com/iliyamo/import-brokerage/internal/model"
	"github.com/iliyamo/import-brokerage/internal/order"
)

// Orders is the part of order.Machine the order endpoints use.
type Orders interface {
	Create(ctx context.Context, o *model.Order) error
	Get(ctx context.Context, id uuid.UUID) (model.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
	History(ctx context.Context, id uuid.UUID) ([]model.OrderStatusHistory, error)
	Apply(ctx context.Context, o model.Order, to model.OrderStatus, changedBy, notes string) (model.Order, error)
}

// UserLookup resolves the contact snapshot copied onto new orders.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
}

// OrderHandler serves order placement, reads and status transitions.
type OrderHandler struct {
	Orders Orders
	Users  UserLookup
}

func NewOrderHandler(o Orders, u UserLookup) *OrderHandler {
	return &OrderHandler{Orders: o, Users: u}
}

type createOrderReq struct {
	VehicleID       string `json:"vehicle_id"`
	ShippingAddress string `json:"shipping_address"`
	Phone           string `json:"phone"`
}

type transitionReq struct {
	To    string `json:"to"`
	Notes string `json:"notes"`
}

type orderResp struct {
	model.Order
	NextStatuses []model.OrderStatus `json:"next_statuses"`
}

func withNext(o model.Order) orderResp {
	return orderResp{Order: o, NextStatuses: order.AllowedNextStates(o.Status)}
}

// Create: POST /v1/orders.  The price comes from the vehicle catalogue and
// the contact from the caller's profile, never from the body.
func (h *OrderHandler) Create(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	if d := authz.Decide(who, authz.PlaceOrder, authz.Resource{OwnerID: who.UserID}); !d.Allowed {
		return denied(c, d)
	}
	var req createOrderReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	vehicleID, err := uuid.Parse(strings.TrimSpace(req.VehicleID))
	if err != nil {
		return fail(c, apperr.Validation("invalid vehicle_id"))
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	u, err := h.Users.GetByID(ctx, who.UserID)
	if err != nil {
		return fail(c, err)
	}
	phone := strings.TrimSpace(req.Phone)
	if phone == "" {
		phone = u.Phone
	}
	o := model.Order{
		UserID:          who.UserID,
		VehicleID:       vehicleID,
		ShippingAddress: req.ShippingAddress,
		Phone:           phone,
		Contact:         u.Contact(),
	}
	if err := h.Orders.Create(ctx, &o); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, withNext(o))
}

// List: GET /v1/orders.  Customers see their own orders; staff may pass
// ?user_id= to list a customer's orders.
func (h *OrderHandler) List(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	owner := who.UserID
	if q := strings.TrimSpace(c.QueryParam("user_id")); q != "" {
		id, err := uuid.Parse(q)
		if err != nil {
			return fail(c, apperr.Validation("invalid user_id"))
		}
		owner = id
	}
	if d := authz.Decide(who, authz.ViewOrder, authz.Resource{OwnerID: owner}); !d.Allowed {
		return denied(c, d)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Orders.ListByUser(ctx, owner)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"orders": list})
}

// Get: GET /v1/orders/:id.
func (h *OrderHandler) Get(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	o, ok, err := h.load(ctx, c, authz.ViewOrder)
	if !ok {
		return err
	}
	return c.JSON(http.StatusOK, withNext(o))
}

// History: GET /v1/orders/:id/history.
func (h *OrderHandler) History(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	o, ok, err := h.load(ctx, c, authz.ViewOrder)
	if !ok {
		return err
	}
	list, err := h.Orders.History(ctx, o.ID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"order_id": o.ID, "history": list})
}

// Transition: POST /v1/orders/:id/transitions.  Who may request which target
// is decided by authz; whether the target is reachable is decided by the
// state machine.
func (h *OrderHandler) Transition(c echo.Context) error {
	who, ok := caller(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	id, err := parseID(c, "id")
	if err != nil {
		return fail(c, err)
	}
	var req transitionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	to := model.OrderStatus(strings.ToUpper(strings.TrimSpace(req.To)))
	if !to.Valid() {
		return fail(c, apperr.Validation("unknown status %q", req.To))
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	o, err := h.Orders.Get(ctx, id)
	if err != nil {
		return fail(c, err)
	}
	d := authz.Decide(who, authz.TransitionOrder, authz.Resource{OwnerID: o.UserID, Status: o.Status, Target: to})
	if !d.Allowed {
		return denied(c, d)
	}
	updated, err := h.Orders.Apply(ctx, o, to, who.UserID.String(), req.Notes)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, withNext(updated))
}

// Statuses: GET /v1/order-statuses.  Static, so it is served through the
// response cache.
func (h *OrderHandler) Statuses(c echo.Context) error {
	terminal := make([]model.OrderStatus, 0, 2)
	for _, s := range model.OrderStatuses {
		if order.IsTerminal(s) {
			terminal = append(terminal, s)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{
		"statuses":    model.OrderStatuses,
		"transitions": order.Graph(),
		"terminal":    terminal,
	})
}

// load reads :id and applies the authorization check for action.  When ok
// is false the response has been written and err is what the handler
// returns.
func (h *OrderHandler) load(ctx context.Context, c echo.Context, action authz.Action) (model.Order, bool, error) {
	who, ok := caller(c)
	if !ok {
		return model.Order{}, false, c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthenticated"})
	}
	id, err := parseID(c, "id")
	if err != nil {
		return model.Order{}, false, fail(c, err)
	}
	o, err := h.Orders.Get(ctx, id)
	if err != nil {
		return model.Order{}, false, fail(c, err)
	}
	if d := authz.Decide(who, action, authz.Resource{OwnerID: o.UserID}); !d.Allowed {
		return model.Order{}, false, denied(c, d)
	}
	return o, true, nil
}
