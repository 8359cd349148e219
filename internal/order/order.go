package order

import "time"

// UnitPrice is the flat price charged per item unit.
const UnitPrice = 10.0

type Status string

const StatusCreated Status = "CREATED"

type Item struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Order struct {
	OrderID     string    `json:"orderId"`
	CustomerID  string    `json:"customerId"`
	Items       []Item    `json:"items"`
	TotalAmount float64   `json:"totalAmount"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"timestamp"`
}

// Total is the order total for items; it depends on nothing else.
func Total(items []Item) float64 {
	var units int
	for _, it := range items {
		units += it.Quantity
	}
	return float64(units) * UnitPrice
}
