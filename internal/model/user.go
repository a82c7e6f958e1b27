package model

import (
    "time"

    "github.com/google/uuid"
)

// Role is the enumerated authority of a user.  Stored verbatim in
// users.role.
type Role string

const (
    RoleCustomer       Role = "CUSTOMER"
    RoleAdmin          Role = "ADMIN"
    RoleClearingAgent  Role = "CLEARING_AGENT"
    RoleFinancePartner Role = "FINANCE_PARTNER"
    RoleExporter       Role = "EXPORTER"
)

// Roles lists every valid role in declaration order.
var Roles = []Role{RoleCustomer, RoleAdmin, RoleClearingAgent, RoleFinancePartner, RoleExporter}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
    for _, v := range Roles {
        if r == v {
            return true
        }
    }
    return false
}

// User represents an application user record as stored in the `users`
// table.  Users authenticate by one-time passcode only, so there is no
// password column.
//
// Fields:
//  ID              – primary key (UUID).
//  Email           – unique, lower-cased email address.
//  FullName        – display name, may be empty for auto-provisioned users.
//  Phone           – contact number, may be empty.
//  Role            – one of the Role constants.
//  FailedAuthCount – consecutive failed passcode verifications.
//  DeletedAt       – soft-delete marker; deleted users cannot log in.
//  CreatedAt       – timestamp of creation.
//  UpdatedAt       – timestamp of last update.
type User struct {
    ID              uuid.UUID  // users.id
    Email           string     // users.email
    FullName        string     // users.full_name
    Phone           string     // users.phone
    Role            Role       // users.role
    FailedAuthCount int        // users.failed_auth_count
    DeletedAt       *time.Time // users.deleted_at (nullable)
    CreatedAt       time.Time  // users.created_at
    UpdatedAt       time.Time  // users.updated_at
}

// Deleted reports whether the user carries a soft-delete marker.
func (u User) Deleted() bool { return u.DeletedAt != nil }

// Contact returns the snapshot stored on orders placed by this user.
func (u User) Contact() ContactSnapshot {
    return ContactSnapshot{Name: u.FullName, Email: u.Email, Phone: u.Phone}
}

// ContactSnapshot is the customer contact captured when an order is placed.
// It is copied onto the order so later reads never depend on the user row
// still existing.
type ContactSnapshot struct {
    Name  string `json:"name"`
    Email string `json:"email"`
    Phone string `json:"phone"`
}
