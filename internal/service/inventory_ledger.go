package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticket-service/internal/apperr"
	"ticket-service/internal/models"
	"ticket-service/internal/store"
	"ticket-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InventoryLedger tracks allocated against sold units per tier. The store's
// conditional update is the only authority; the cache only answers reads.
type InventoryLedger struct {
	repo   store.Repository
	cache  AvailabilityCache
	logger *zap.Logger
}

// NewInventoryLedger creates a new ledger. cache may be nil.
func NewInventoryLedger(repo store.Repository, cache AvailabilityCache) *InventoryLedger {
	return &InventoryLedger{
		repo:   repo,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// TierAvailability is the public view of a tier's inventory
type TierAvailability struct {
	models.TicketTier
	Available int `json:"available"`
}

// CheckAvailability reports whether qty units can currently be sold. It is
// advisory: Commit re-validates atomically.
func (l *InventoryLedger) CheckAvailability(ctx context.Context, tier *models.TicketTier, qty int) bool {
	return l.available(ctx, tier) >= qty
}

// RequireAvailable is CheckAvailability as a CapacityError
func (l *InventoryLedger) RequireAvailable(ctx context.Context, tier *models.TicketTier, qty int) error {
	available := l.available(ctx, tier)
	if available >= qty {
		return nil
	}
	return capacityError(available, qty)
}

// Availability returns a tier with its remaining units
func (l *InventoryLedger) Availability(ctx context.Context, tierID uuid.UUID) (*TierAvailability, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Availability")
	defer span.End()

	tier, err := l.repo.GetTier(ctx, tierID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("ticket tier %s not found", tierID)
	}
	if err != nil {
		return nil, err
	}
	return &TierAvailability{TicketTier: *tier, Available: l.available(ctx, tier)}, nil
}

// available takes the lower of the snapshot and the cache, since sold
// counts only grow and the lower figure is the fresher one
func (l *InventoryLedger) available(ctx context.Context, tier *models.TicketTier) int {
	available := tier.Available()
	if l.cache == nil {
		return available
	}

	cached, ok, err := l.cache.GetAvailable(ctx, tier.ID)
	if err != nil {
		l.logger.Warn("Availability cache read failed, using snapshot",
			zap.String("tier_id", tier.ID.String()),
			zap.Error(err))
		return available
	}
	if ok && cached < available {
		return cached
	}
	return available
}

// Commit increments sold by qty inside q, failing with a CapacityError
// when that would exceed the allocation
func (l *InventoryLedger) Commit(ctx context.Context, q store.Querier, tierID uuid.UUID, qty int) (*models.TicketTier, error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Commit")
	defer span.End()

	start := time.Now()
	defer func() {
		util.InventoryCommitLatency.Observe(time.Since(start).Seconds())
	}()

	tier, err := q.CommitTierSold(ctx, tierID, qty)
	switch {
	case err == nil:
		return tier, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.NotFound("ticket tier %s not found", tierID)
	case errors.Is(err, store.ErrInsufficientCapacity):
		util.InventoryCommitFailed.WithLabelValues("insufficient_capacity").Inc()
		current, getErr := q.GetTier(ctx, tierID)
		if getErr != nil {
			return nil, capacityError(0, qty)
		}
		return nil, capacityError(current.Available(), qty)
	default:
		util.InventoryCommitFailed.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to commit inventory for tier %s: %w", tierID, err)
	}
}

// Committed pushes a post-commit tier state to the cache. Best effort.
func (l *InventoryLedger) Committed(ctx context.Context, tier *models.TicketTier) {
	if l.cache == nil || tier == nil {
		return
	}
	if _, err := l.cache.LowerAvailable(ctx, tier.ID, tier.Available()); err != nil {
		l.logger.Warn("Failed to update availability cache",
			zap.String("tier_id", tier.ID.String()),
			zap.Error(err))
	}
}

// Sync warms the availability cache from the store
func (l *InventoryLedger) Sync(ctx context.Context) error {
	if l.cache == nil {
		return nil
	}
	l.logger.Info("Starting availability sync to Redis")

	tiers, err := l.repo.ListTiers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tiers: %w", err)
	}

	for i := range tiers {
		if err := l.cache.SetAvailable(ctx, tiers[i].ID, tiers[i].Available()); err != nil {
			l.logger.Error("Failed to sync tier availability",
				zap.String("tier_id", tiers[i].ID.String()),
				zap.Error(err))
		}
	}

	l.logger.Info("Availability sync completed", zap.Int("count", len(tiers)))
	return nil
}

func capacityError(available, requested int) error {
	if available <= 0 {
		return apperr.Capacity(apperr.CodeSoldOut, "this ticket tier is sold out").
			WithDetail("available", 0).
			WithDetail("requested", requested)
	}
	return apperr.Capacity(apperr.CodeInsufficientCapacity,
		fmt.Sprintf("only %d tickets left", available)).
		WithDetail("available", available).
		WithDetail("requested", requested)
}
