// Package rules implements the account deletion eligibility checks used by
// the back-office API. Checks run as an ordered chain: the first failing
// check short-circuits with its reason, and a user passing every check is
// eligible for deletion.
package rules

import (
	"context"
	"fmt"
)

// User roles recognized by the eligibility chain.
const (
	RoleClient = "client"
	RoleGuide  = "guide"
	RoleAdmin  = "admin"
)

// User identifies an account being evaluated for deletion.
type User struct {
	ID   int64
	Role string
}

// Result reports the outcome of a deletion eligibility evaluation.
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Check is a single eligibility rule. A nil error and Allowed=false means
// the rule rejected the deletion; the chain stops there.
type Check func(ctx context.Context, user User) (Result, error)

// Chain evaluates eligibility checks in registration order.
type Chain struct {
	checks []Check
}

// NewChain builds the standard deletion chain over the given stats store.
// The order is fixed: reviews first, then client-side obligations, then
// guide-side obligations, then the last-admin safeguard.
func NewChain(stats StatsStore) *Chain {
	return &Chain{
		checks: []Check{
			reviewCheck(stats),
			clientReservationCheck(stats),
			clientTourCheck(stats),
			guideReservationCheck(stats),
			guideTourCheck(stats),
			adminCheck(stats),
		},
	}
}

// Evaluate runs the user through every check in order. The first check that
// rejects stops the chain and its reason is returned. Store errors abort the
// evaluation.
func (c *Chain) Evaluate(ctx context.Context, user User) (Result, error) {
	for _, check := range c.checks {
		res, err := check(ctx, user)
		if err != nil {
			return Result{}, err
		}
		if !res.Allowed {
			return res, nil
		}
	}
	return Result{Allowed: true, Reason: "User can be deleted"}, nil
}

func reviewCheck(stats StatsStore) Check {
	return func(ctx context.Context, user User) (Result, error) {
		n, err := stats.ReviewCount(ctx, user.ID)
		if err != nil {
			return Result{}, fmt.Errorf("rules: review check: %w", err)
		}
		if n > 0 {
			return Result{Allowed: false, Reason: "Cannot delete user: User has existing reviews"}, nil
		}
		return Result{Allowed: true}, nil
	}
}

func clientReservationCheck(stats StatsStore) Check {
	return func(ctx context.Context, user User) (Result, error) {
		if user.Role != RoleClient {
			return Result{Allowed: true}, nil
		}
		n, err := stats.ClientReservationCount(ctx, user.ID)
		if err != nil {
			return Result{}, fmt.Errorf("rules: client reservation check: %w", err)
		}
		if n > 0 {
			return Result{Allowed: false, Reason: "Cannot delete client: Client has existing reservations"}, nil
		}
		return Result{Allowed: true}, nil
	}
}

func clientTourCheck(stats StatsStore) Check {
	return func(ctx context.Context, user User) (Result, error) {
		if user.Role != RoleClient {
			return Result{Allowed: true}, nil
		}
		n, err := stats.ClientTourCount(ctx, user.ID)
		if err != nil {
			return Result{}, fmt.Errorf("rules: client tour check: %w", err)
		}
		if n > 0 {
			return Result{Allowed: false, Reason: "Cannot delete client: Client has existing personalized tours"}, nil
		}
		return Result{Allowed: true}, nil
	}
}

func guideReservationCheck(stats StatsStore) Check {
	return func(ctx context.Context, user User) (Result, error) {
		if user.Role != RoleGuide {
			return Result{Allowed: true}, nil
		}
		n, err := stats.GuideReservationCount(ctx, user.ID)
		if err != nil {
			return Result{}, fmt.Errorf("rules: guide reservation check: %w", err)
		}
		if n > 0 {
			return Result{Allowed: false, Reason: "Cannot delete guide: Guide has existing reservations"}, nil
		}
		return Result{Allowed: true}, nil
	}
}

func guideTourCheck(stats StatsStore) Check {
	return func(ctx context.Context, user User) (Result, error) {
		if user.Role != RoleGuide {
			return Result{Allowed: true}, nil
		}
		n, err := stats.GuideTourCount(ctx, user.ID)
		if err != nil {
			return Result{}, fmt.Errorf("rules: guide tour check: %w", err)
		}
		if n > 0 {
			return Result{Allowed: false, Reason: "Cannot delete guide: Guide has existing personalized tours"}, nil
		}
		return Result{Allowed: true}, nil
	}
}

func adminCheck(stats StatsStore) Check {
	return func(ctx context.Context, user User) (Result, error) {
		if user.Role != RoleAdmin {
			return Result{Allowed: true}, nil
		}
		n, err := stats.AdminCount(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("rules: admin check: %w", err)
		}
		if n <= 1 {
			return Result{Allowed: false, Reason: "Cannot delete user: This is the last admin in the system"}, nil
		}
		return Result{Allowed: true}, nil
	}
}
