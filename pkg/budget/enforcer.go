// Package budget enforces per-agent spending caps against recorded LLM
// usage.
package budget

import (
	"errors"
	"fmt"
	"time"

	"github.com/medtrail-ai/medtrail/pkg/models"
)

// ErrBudgetExceeded is returned by Check when an agent's recorded spend has
// reached its cap. Callers decide whether to block, warn, or ignore.
var ErrBudgetExceeded = errors.New("budget exceeded")

// SpendStore reports recorded spend. Implemented by telemetry.Store.
type SpendStore interface {
	AgentSpend(agent, model string, since time.Time) (float64, error)
}

// Enforcer evaluates budget policies. Policies are fixed at construction;
// spend is read from the store on every check so concurrent writers are
// always reflected.
type Enforcer struct {
	store    SpendStore
	policies []models.BudgetPolicy
}

func NewEnforcer(store SpendStore, policies []models.BudgetPolicy) *Enforcer {
	return &Enforcer{store: store, policies: policies}
}

// policyFor returns the first policy matching agent and model. An exact
// agent match beats the "*" wildcard.
func (e *Enforcer) policyFor(agent, model string) (models.BudgetPolicy, bool) {
	var wildcard *models.BudgetPolicy
	for i, p := range e.policies {
		if p.Model != "" && p.Model != model {
			continue
		}
		if p.Agent == agent {
			return p, true
		}
		if p.Agent == "*" && wildcard == nil {
			wildcard = &e.policies[i]
		}
	}
	if wildcard != nil {
		return *wildcard, true
	}
	return models.BudgetPolicy{}, false
}

// Check returns ErrBudgetExceeded when the matching policy's cap is spent.
// Agents without a matching policy are unconstrained.
func (e *Enforcer) Check(agent, model string) error {
	p, ok := e.policyFor(agent, model)
	if !ok {
		return nil
	}
	spent, err := e.store.AgentSpend(p.Agent, p.Model, monthStart())
	if err != nil {
		return fmt.Errorf("check budget: %w", err)
	}
	if spent >= p.MaxCostUSD {
		return fmt.Errorf("%w: agent %q spent $%.4f of $%.4f this month",
			ErrBudgetExceeded, agent, spent, p.MaxCostUSD)
	}
	return nil
}

// Status returns the current spend position of every policy.
func (e *Enforcer) Status() ([]models.BudgetStatus, error) {
	statuses := make([]models.BudgetStatus, 0, len(e.policies))
	for _, p := range e.policies {
		spent, err := e.store.AgentSpend(p.Agent, p.Model, monthStart())
		if err != nil {
			return nil, fmt.Errorf("budget status: %w", err)
		}
		remaining := p.MaxCostUSD - spent
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:    p,
			UsedUSD:   spent,
			Remaining: remaining,
		})
	}
	return statuses, nil
}

// monthStart returns the first instant of the current UTC month. Budgets
// reset monthly.
func monthStart() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
