package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is a stored account. PasswordHash is a bcrypt hash and is never
// serialized.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	AccountType      string    `json:"accountType"`
	SubscriptionPlan string    `json:"subscriptionPlan"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const userColumns = `id, email, password_hash, account_type, subscription_plan, created_at, updated_at`

// GetUserByEmail fetches one user by email. Returns pgx.ErrNoRows (wrapped)
// if no account exists for the address.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1
	`, email).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.AccountType,
		&user.SubscriptionPlan,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

// CreateUser inserts a new account and returns the stored record.
func (r *PostgresRepository) CreateUser(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.AccountType == "" {
		user.AccountType = "Student"
	}
	if user.SubscriptionPlan == "" {
		user.SubscriptionPlan = "Default"
	}

	var created User
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, account_type, subscription_plan)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns+`
	`,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.AccountType,
		user.SubscriptionPlan,
	).Scan(
		&created.ID,
		&created.Email,
		&created.PasswordHash,
		&created.AccountType,
		&created.SubscriptionPlan,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// UpdateUserPlan changes a user's subscription plan. Returns pgx.ErrNoRows
// (wrapped) if the user does not exist.
func (r *PostgresRepository) UpdateUserPlan(ctx context.Context, userID, plan string) (User, error) {
	var updated User
	err := r.pool.QueryRow(ctx, `
		UPDATE users
		SET subscription_plan = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns+`
	`, userID, plan).Scan(
		&updated.ID,
		&updated.Email,
		&updated.PasswordHash,
		&updated.AccountType,
		&updated.SubscriptionPlan,
		&updated.CreatedAt,
		&updated.UpdatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("update user plan: %w", err)
	}
	return updated, nil
}
