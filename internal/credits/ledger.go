// Package credits manages the per-user analysis credit balance.
package credits

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aimpatfx/backend/pkg/logger"
)

// ErrInsufficientCredits is returned when a deduction or a submission
// check finds a zero or negative balance
var ErrInsufficientCredits = errors.New("insufficient analysis credits")

// ErrUnknownPlan is returned for a billing event naming no known plan
var ErrUnknownPlan = errors.New("unknown subscription plan")

// planCredits maps subscription plan names to the credits they grant.
// Annual variants grant twelve months up front.
var planCredits = map[string]int{
	"Básico":      20,
	"Avanzado":    50,
	"Profesional": 150,
	"Experto":     500,

	"Básico Anual":      240,
	"Avanzado Anual":    600,
	"Profesional Anual": 1800,
	"Experto Anual":     6000,
}

// Ledger reads and mutates credit balances on the profiles table.
// Deduct is a single conditional UPDATE, so the read-check-write is
// atomic without an explicit transaction.
type Ledger struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewLedger creates a new credit ledger
func NewLedger(pool *pgxpool.Pool, log *logger.Logger) *Ledger {
	return &Ledger{pool: pool, logger: log}
}

// Balance returns the current balance for a user
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := l.pool.QueryRow(ctx,
		`SELECT analysis_credits FROM profiles WHERE id = $1`, userID,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("profile %s not found", userID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance for %s: %w", userID, err)
	}
	return balance, nil
}

// Deduct removes one credit and returns the new balance. A balance of
// zero or less leaves the row untouched and returns
// ErrInsufficientCredits.
func (l *Ledger) Deduct(ctx context.Context, userID string) (int, error) {
	var balance int
	err := l.pool.QueryRow(ctx, `
		UPDATE profiles
		SET analysis_credits = analysis_credits - 1, updated_at = NOW()
		WHERE id = $1 AND analysis_credits > 0
		RETURNING analysis_credits`, userID,
	).Scan(&balance)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientCredits
	}
	if err != nil {
		return 0, fmt.Errorf("failed to deduct credit for %s: %w", userID, err)
	}

	return balance, nil
}

// ApplyPlan grants a plan's credits to a user after a verified billing
// event and returns the new balance.
func (l *Ledger) ApplyPlan(ctx context.Context, userID, plan string) (int, error) {
	grant, ok := planCredits[plan]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPlan, plan)
	}

	var balance int
	err := l.pool.QueryRow(ctx, `
		UPDATE profiles
		SET analysis_credits = analysis_credits + $1, plan = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING analysis_credits`, grant, plan, userID,
	).Scan(&balance)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("profile %s not found", userID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to apply plan %s for %s: %w", plan, userID, err)
	}

	l.logger.WithFields(map[string]interface{}{
		"user_id": userID,
		"plan":    plan,
		"granted": grant,
		"balance": balance,
	}).Info("Plan credits applied")

	return balance, nil
}

// PlanCredits exposes the grant for a plan name, for handlers that
// need to reject unknown plans before touching the database.
func PlanCredits(plan string) (int, bool) {
	grant, ok := planCredits[plan]
	return grant, ok
}
