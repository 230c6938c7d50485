package orders

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("orders: invalid input")
	ErrNotFound          = errors.New("orders: not found")
	ErrConflict          = errors.New("orders: session already reconciled")
	ErrInsufficientStock = errors.New("orders: insufficient stock")
)

// StockShortage carries which product could not cover the requested
// quantity. Matches ErrInsufficientStock under errors.Is.
type StockShortage struct {
	ProductID string
	Required  int
	Available int
}

func (e *StockShortage) Error() string {
	return fmt.Sprintf("orders: insufficient stock for product %s: required %d, available %d",
		e.ProductID, e.Required, e.Available)
}

func (e *StockShortage) Unwrap() error { return ErrInsufficientStock }
