package records

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("record not found")

type Repository interface {
	Create(ctx context.Context, r *Record) error
	GetByID(ctx context.Context, id int64) (*Record, error)
}
