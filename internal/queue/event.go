package queue

// StatusChangedQueue is the durable queue carrying order transitions.
const StatusChangedQueue = "order.status_changed"

// OrderStatusChangedEvent is published after an order transition commits.
// It carries the customer contact snapshot so the notification consumer
// never has to query the primary database.
type OrderStatusChangedEvent struct {
	OrderID      string `json:"order_id"`
	UserID       string `json:"user_id"`
	FromStatus   string `json:"from_status"`
	ToStatus     string `json:"to_status"`
	ChangedBy    string `json:"changed_by"`
	Notes        string `json:"notes,omitempty"`
	ContactName  string `json:"contact_name,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	ChangedAt    string `json:"changed_at"`
}
