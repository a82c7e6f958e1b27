package model

import (
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"
)

// OrderStatus is a node of the order pipeline.
type OrderStatus string

const (
    StatusCreated                      OrderStatus = "CREATED"
    StatusPaymentConfirmed             OrderStatus = "PAYMENT_CONFIRMED"
    StatusLCRequested                  OrderStatus = "LC_REQUESTED"
    StatusLCApproved                   OrderStatus = "LC_APPROVED"
    StatusLCRejected                   OrderStatus = "LC_REJECTED"
    StatusAssignedToExporter           OrderStatus = "ASSIGNED_TO_EXPORTER"
    StatusShipmentDocsUploaded         OrderStatus = "SHIPMENT_DOCS_UPLOADED"
    StatusAwaitingShipmentConfirmation OrderStatus = "AWAITING_SHIPMENT_CONFIRMATION"
    StatusShipped                      OrderStatus = "SHIPPED"
    StatusInTransit                    OrderStatus = "IN_TRANSIT"
    StatusArrivedAtPort                OrderStatus = "ARRIVED_AT_PORT"
    StatusCustomsClearance             OrderStatus = "CUSTOMS_CLEARANCE"
    StatusDelivered                    OrderStatus = "DELIVERED"
    StatusCancelled                    OrderStatus = "CANCELLED"
)

// OrderStatuses lists the pipeline in order; CANCELLED last.
var OrderStatuses = []OrderStatus{
    StatusCreated,
    StatusPaymentConfirmed,
    StatusLCRequested,
    StatusLCApproved,
    StatusLCRejected,
    StatusAssignedToExporter,
    StatusShipmentDocsUploaded,
    StatusAwaitingShipmentConfirmation,
    StatusShipped,
    StatusInTransit,
    StatusArrivedAtPort,
    StatusCustomsClearance,
    StatusDelivered,
    StatusCancelled,
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
    for _, v := range OrderStatuses {
        if s == v {
            return true
        }
    }
    return false
}

// Order mirrors the `orders` table.  Status changes only through the order
// state machine; PaymentStatus is a snapshot of the ledger written alongside
// each accepted transition and is never trusted as a guard input.
//
// Fields:
//  ID              – primary key.
//  UserID          – customer who placed the order.
//  VehicleID       – vehicle being imported.
//  Status          – current pipeline status.
//  PaymentStatus   – ledger status at the last transition.
//  TotalCost       – price resolved at placement.
//  ShippingAddress – plaintext address; sealed at rest by the repository.
//  Phone           – delivery contact number.
//  Contact         – customer contact captured at placement.
//  CreatedAt       – creation timestamp.
//  UpdatedAt       – last update timestamp.
type Order struct {
    ID              uuid.UUID       `json:"id"`
    UserID          uuid.UUID       `json:"user_id"`
    VehicleID       uuid.UUID       `json:"vehicle_id"`
    Status          OrderStatus     `json:"status"`
    PaymentStatus   PaymentStatus   `json:"payment_status"`
    TotalCost       decimal.Decimal `json:"total_cost"`
    ShippingAddress string          `json:"shipping_address"`
    Phone           string          `json:"phone"`
    Contact         ContactSnapshot `json:"contact"`
    CreatedAt       time.Time       `json:"created_at"`
    UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderStatusHistory is one row of the append-only audit trail in
// `order_status_history`.  Rows are never updated or deleted.
type OrderStatusHistory struct {
    ID         uint64      `json:"id"`
    OrderID    uuid.UUID   `json:"order_id"`
    FromStatus OrderStatus `json:"from_status"`
    ToStatus   OrderStatus `json:"to_status"`
    ChangedBy  string      `json:"changed_by"`
    Notes      string      `json:"notes,omitempty"`
    At         time.Time   `json:"at"`
}
