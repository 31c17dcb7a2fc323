package flowstep

import (
	"context"
	"fmt"

	"github.com/shaiso/Outreach/internal/domain"
)

// evalPredicate вычисляет предикат condition-шага по атрибутам
// customer'а и его заказам.
func (w *Worker) evalPredicate(ctx context.Context, customer *domain.Customer, cfg *domain.ConditionConfig) (bool, error) {
	switch cfg.Predicate {
	case domain.PredicateHasPurchased:
		count, err := w.orders.CountByCustomer(ctx, customer.ID)
		if err != nil {
			return false, err
		}
		return count > 0, nil

	case domain.PredicateHasTag:
		return customer.HasTag(cfg.Tag), nil

	case domain.PredicateTotalSpendAtLeast:
		total, err := w.orders.TotalSpendByCustomer(ctx, customer.ID)
		if err != nil {
			return false, err
		}
		return total >= cfg.Amount, nil

	case domain.PredicateOrderCountAtLeast:
		count, err := w.orders.CountByCustomer(ctx, customer.ID)
		if err != nil {
			return false, err
		}
		return count >= cfg.Count, nil

	default:
		return false, fmt.Errorf("unknown predicate %q", cfg.Predicate)
	}
}
