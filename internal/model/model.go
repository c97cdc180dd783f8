// Package model contains the domain entities of the order-notification agent.
package model

import "time"

// OrderStatus describes the lifecycle state of an order as reported by the
// ordering backend. Statuses move forward along
// pending -> confirmed -> preparing -> ready -> delivered, with cancelled
// reachable from any non-terminal state. The agent only observes statuses.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further status transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// OrderItem is one line of an order, with name and price snapshotted at the
// time the order was placed.
type OrderItem struct {
	FoodID   string  `json:"foodId"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// StatusChange is one entry of an order's status audit trail.
type StatusChange struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// Order is a read-only snapshot of a customer order as last observed from the
// backend.
type Order struct {
	ID            string         `json:"id"`
	OrderNumber   string         `json:"orderNumber"`
	Status        OrderStatus    `json:"status"`
	HasFeedback   bool           `json:"hasFeedback"`
	Items         []OrderItem    `json:"items"`
	StatusHistory []StatusChange `json:"statusHistory,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	GrandTotal    float64        `json:"grandTotal"`
}

// Push event types delivered over the push channel. Push payloads are treated
// as wake-up signals only; the polled snapshot remains the source of truth.
const (
	PushEventCreated      = "created"
	PushEventStatusChange = "statusChange"
)

// PushEvent is a server-pushed order event.
type PushEvent struct {
	Type      string      `json:"type"`
	Order     *Order      `json:"order,omitempty"`
	NewStatus OrderStatus `json:"newStatus,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// ItemFeedback is a per-item rating within a feedback submission.
type ItemFeedback struct {
	FoodID   string `json:"foodId" validate:"required"`
	FoodName string `json:"foodName"`
	Rating   int    `json:"rating" validate:"required,min=1,max=5"`
	Comment  string `json:"comment"`
}

// FeedbackSubmission is the structured payload sent to the backend once the
// customer rates a delivered order. Shop-level fields are optional.
type FeedbackSubmission struct {
	OrderID        string         `json:"orderId" validate:"required"`
	OrderNumber    string         `json:"orderNumber"`
	Items          []ItemFeedback `json:"items" validate:"required,min=1,dive"`
	ShopRating     int            `json:"shopRating,omitempty" validate:"omitempty,min=1,max=5"`
	ShopFeedback   string         `json:"shopFeedback,omitempty"`
	ServiceQuality int            `json:"serviceQuality,omitempty" validate:"omitempty,min=1,max=5"`
	DeliverySpeed  int            `json:"deliverySpeed,omitempty" validate:"omitempty,min=1,max=5"`
}
