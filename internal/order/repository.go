package order

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("order not found")

type Repository interface {
	Save(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	Delete(ctx context.Context, id string) error
}

type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: map[string]Order{}}
}

func (r *MemoryRepository) Save(_ context.Context, o Order) error {
	o.Items = append([]Item(nil), o.Items...)
	r.mu.Lock()
	r.orders[o.OrderID] = o
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Order, error) {
	r.mu.RLock()
	o, ok := r.orders[id]
	r.mu.RUnlock()
	if !ok {
		return Order{}, ErrNotFound
	}
	o.Items = append([]Item(nil), o.Items...)
	return o, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.orders, id)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orders)
}
