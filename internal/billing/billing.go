// Package billing decides whether an organization may activate another server.
package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/imyashkale/mcpwizard/internal/config"
	"github.com/imyashkale/mcpwizard/internal/logger"
	"github.com/imyashkale/mcpwizard/internal/models"
)

// ErrInsufficientCredits is returned when an activation would exceed the plan allowance
var ErrInsufficientCredits = errors.New("insufficient credits")

// Gate is consulted before a server is activated and charged after
type Gate interface {
	Check(ctx context.Context, caller models.Caller) error
	Charge(ctx context.Context, caller models.Caller, serverId string) error
}

// LedgerGate enforces the plan credit allowance with an in-process ledger.
// Charging the same server twice is a no-op.
type LedgerGate struct {
	plans *config.Plans
	cost  int

	mu      sync.Mutex
	spent   map[string]int             // organization -> credits used
	charged map[string]map[string]bool // organization -> server ids charged
}

// NewLedgerGate creates a gate that charges cost credits per activation
func NewLedgerGate(plans *config.Plans, cost int) *LedgerGate {
	if cost < 0 {
		cost = 0
	}
	return &LedgerGate{
		plans:   plans,
		cost:    cost,
		spent:   make(map[string]int),
		charged: make(map[string]map[string]bool),
	}
}

// Check fails with ErrInsufficientCredits when the next activation is not covered
func (g *LedgerGate) Check(ctx context.Context, caller models.Caller) error {
	allowance := g.plans.Credits(caller.Plan)
	if allowance == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.spent[caller.OrganizationId]+g.cost > allowance {
		logger.WithFields(map[string]interface{}{
			"organization_id": caller.OrganizationId,
			"plan":            caller.Plan,
			"spent":           g.spent[caller.OrganizationId],
			"allowance":       allowance,
		}).Info("Activation refused by billing gate")
		return fmt.Errorf("%w: plan allows %d credits, %d used", ErrInsufficientCredits, allowance, g.spent[caller.OrganizationId])
	}
	return nil
}

// Charge records an activation of serverId
func (g *LedgerGate) Charge(ctx context.Context, caller models.Caller, serverId string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	servers := g.charged[caller.OrganizationId]
	if servers == nil {
		servers = make(map[string]bool)
		g.charged[caller.OrganizationId] = servers
	}
	if servers[serverId] {
		return nil
	}
	servers[serverId] = true
	g.spent[caller.OrganizationId] += g.cost
	return nil
}

// Spent returns the credits an organization has used
func (g *LedgerGate) Spent(organizationId string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spent[organizationId]
}
