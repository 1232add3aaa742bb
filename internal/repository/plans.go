package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubscriptionPlan is a purchasable subscription tier. Price is in minor
// currency units per billing cycle.
type SubscriptionPlan struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Price            int64           `json:"price"`
	Currency         string          `json:"currency"`
	Description      string          `json:"description"`
	Benefits         json.RawMessage `json:"benefits"`
	BillingCycleDays int             `json:"billingCycleDays"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

const planColumns = `id, name, price, currency, description, benefits, billing_cycle_days, active, created_at, updated_at`

// ListPlans returns all active subscription plans ordered by price.
func (r *PostgresRepository) ListPlans(ctx context.Context) ([]SubscriptionPlan, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+planColumns+`
		FROM subscription_plans
		WHERE active
		ORDER BY price, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]SubscriptionPlan, 0)
	for rows.Next() {
		var plan SubscriptionPlan
		if err := rows.Scan(
			&plan.ID,
			&plan.Name,
			&plan.Price,
			&plan.Currency,
			&plan.Description,
			&plan.Benefits,
			&plan.BillingCycleDays,
			&plan.Active,
			&plan.CreatedAt,
			&plan.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list plans rows: %w", err)
	}

	return plans, nil
}

// CreatePlan inserts a new subscription plan and returns the stored record.
func (r *PostgresRepository) CreatePlan(ctx context.Context, plan SubscriptionPlan) (SubscriptionPlan, error) {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.Currency == "" {
		plan.Currency = "RON"
	}
	if plan.BillingCycleDays <= 0 {
		plan.BillingCycleDays = 30
	}

	var created SubscriptionPlan
	err := r.pool.QueryRow(ctx, `
		INSERT INTO subscription_plans (id, name, price, currency, description, benefits, billing_cycle_days, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+planColumns+`
	`,
		plan.ID,
		plan.Name,
		plan.Price,
		plan.Currency,
		plan.Description,
		ensureJSON(plan.Benefits, "[]"),
		plan.BillingCycleDays,
		plan.Active,
	).Scan(
		&created.ID,
		&created.Name,
		&created.Price,
		&created.Currency,
		&created.Description,
		&created.Benefits,
		&created.BillingCycleDays,
		&created.Active,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return SubscriptionPlan{}, fmt.Errorf("create plan: %w", err)
	}
	return created, nil
}
