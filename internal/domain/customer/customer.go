package customer

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested customer does not exist.
var ErrNotFound = errors.New("customer not found")

// Customer is the loyalty view of a restaurant guest.
type Customer struct {
	ID             string
	Name           string
	MembershipTier string
	OrderCount     int
	LoyaltyPoints  int64
}

// Repository provides customer lookups and tier mutation.
type Repository interface {
	Get(ctx context.Context, id string) (*Customer, error)
	// ListAfter returns up to limit customers ordered by id with id > afterID.
	ListAfter(ctx context.Context, afterID string, limit int) ([]Customer, error)
	SetMembershipTier(ctx context.Context, id, tier string) error
}
