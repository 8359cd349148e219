package shipping

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultAddress = "123 Main St, Tech City, Cloud Land"

// ScheduledEvent is published once per shipped order.
type ScheduledEvent struct {
	OrderID               string    `json:"orderId"`
	ShippingAddress       string    `json:"shippingAddress"`
	EstimatedDeliveryDate time.Time `json:"estimatedDeliveryDate"`
	TrackingNumber        string    `json:"trackingNumber"`
	ScheduledAt           time.Time `json:"timestamp"`
}

// orderCreated is the part of the OrderCreated payload shipping reads.
type orderCreated struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
}

type AddressResolver interface {
	Resolve(ctx context.Context, orderID, customerID string) (string, error)
}

// StaticAddress resolves every order to the same address.
type StaticAddress string

func (a StaticAddress) Resolve(context.Context, string, string) (string, error) {
	return string(a), nil
}

// NewTrackingNumber returns TRK- followed by eight upper-case hex characters.
func NewTrackingNumber() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TRK-" + strings.ToUpper(id[:8])
}
