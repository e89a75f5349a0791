package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freebox-home/freebox-bridge/internal/config"
	"github.com/freebox-home/freebox-bridge/internal/freebox"
	"github.com/freebox-home/freebox-bridge/internal/models"
)

// GatewayReader is the poll surface of the gateway client.
type GatewayReader interface {
	Fetch(ctx context.Context, cat models.Category) ([]models.DeviceState, error)
}

// Coordinator runs the poll loop: one cycle per tick, every category
// fetched and published independently, pending commands reconciled against
// what the gateway actually reports.
type Coordinator struct {
	client  GatewayReader
	bus     *Bus
	pending *PendingTable

	interval       time.Duration
	commandTimeout time.Duration
	retryAttempts  int
	retryBackoff   time.Duration

	// last known-good states per category, republished as stale when a
	// cycle's fetch fails.
	lastGood map[models.Category]models.Snapshot
}

// NewCoordinator creates a poll coordinator.
func NewCoordinator(client GatewayReader, bus *Bus, pending *PendingTable, cfg config.PollConfig) *Coordinator {
	return &Coordinator{
		client:         client,
		bus:            bus,
		pending:        pending,
		interval:       cfg.Interval,
		commandTimeout: cfg.CommandTimeout,
		retryAttempts:  cfg.RetryAttempts,
		retryBackoff:   cfg.RetryBackoff,
		lastGood:       make(map[models.Category]models.Snapshot),
	}
}

// Run polls until the context is cancelled. Cycles never overlap: the next
// tick is only honored once the previous cycle returned, and missed ticks
// are dropped, not queued.
func (c *Coordinator) Run(ctx context.Context) {
	log.Info().
		Dur("interval", c.interval).
		Msg("Poll coordinator started")

	c.cycle(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Poll coordinator stopped")
			return
		case <-ticker.C:
			c.cycle(ctx)
		}
	}
}

// cycle polls every category once. A category failing is isolated: its
// previous snapshot is republished stale and the cycle moves on.
func (c *Coordinator) cycle(ctx context.Context) {
	for _, cat := range models.AllCategories {
		if ctx.Err() != nil {
			return
		}

		states, err := c.fetchWithRetry(ctx, cat)
		if err != nil {
			c.handleFetchFailure(cat, err)
			continue
		}

		snap := models.Snapshot{
			Category: cat,
			States:   c.reconcile(cat, states),
			TakenAt:  time.Now(),
		}
		c.lastGood[cat] = snap
		c.bus.Publish(snap)
	}
}

// fetchWithRetry retries transient failures with doubling backoff. Data
// and protocol errors surface immediately.
func (c *Coordinator) fetchWithRetry(ctx context.Context, cat models.Category) ([]models.DeviceState, error) {
	backoff := c.retryBackoff
	var lastErr error

	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		states, err := c.client.Fetch(ctx, cat)
		if err == nil {
			return states, nil
		}
		lastErr = err

		if !freebox.IsTransient(err) {
			return nil, err
		}
		if attempt == c.retryAttempts {
			break
		}

		log.Debug().
			Str("category", string(cat)).
			Int("attempt", attempt).
			Err(err).
			Msg("Transient poll failure, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, lastErr
}

func (c *Coordinator) handleFetchFailure(cat models.Category, err error) {
	var authErr *freebox.AuthError
	if errors.As(err, &authErr) {
		log.Error().
			Str("category", string(cat)).
			Err(err).
			Msg("Gateway authorization lost, re-pairing required")
	} else {
		log.Warn().
			Str("category", string(cat)).
			Err(err).
			Msg("Poll failed for category")
	}

	last, ok := c.lastGood[cat]
	if !ok {
		return
	}
	last.Stale = true
	last.TakenAt = time.Now()
	c.bus.Publish(last)
}

// reconcile settles the category's pending commands against the polled
// truth. Confirmed commands are removed; unexpired unconfirmed ones keep
// the target optimistic; expired ones surface the polled state flagged
// unconfirmed. A target the gateway stopped reporting still gets a
// synthesized state so its pending command is never silently dropped.
func (c *Coordinator) reconcile(cat models.Category, states []models.DeviceState) []models.DeviceState {
	pending := c.pending.ForCategory(cat)
	if len(pending) == 0 {
		return states
	}

	index := make(map[string]int, len(states))
	for i := range states {
		index[states[i].TargetID] = i
	}

	now := time.Now()
	for _, pc := range pending {
		i, found := index[pc.Command.TargetID]
		if found && pc.Command.Satisfied(states[i]) {
			log.Debug().
				Str("targetId", pc.Command.TargetID).
				Str("action", string(pc.Command.Action)).
				Msg("Command confirmed by poll")
			c.pending.Remove(pc.Command.TargetID, pc.ID)
			continue
		}

		if now.Sub(pc.IssuedAt) < c.commandTimeout {
			if found {
				states[i] = pc.Command.DesiredState(states[i])
			} else {
				states = append(states, pc.Command.DesiredState(c.previousState(cat, pc.Command.TargetID)))
			}
			continue
		}

		log.Warn().
			Str("targetId", pc.Command.TargetID).
			Str("action", string(pc.Command.Action)).
			Msg("Command never confirmed before timeout")
		c.pending.Remove(pc.Command.TargetID, pc.ID)
		if found {
			states[i].Unconfirmed = true
		} else {
			state := c.previousState(cat, pc.Command.TargetID)
			state.Unconfirmed = true
			states = append(states, state)
		}
	}

	return states
}

// previousState recovers the last published state of a target that dropped
// out of the current poll, falling back to a bare placeholder for targets
// never seen before.
func (c *Coordinator) previousState(cat models.Category, targetID string) models.DeviceState {
	if last, ok := c.lastGood[cat]; ok {
		if prev := last.Find(targetID); prev != nil {
			state := *prev
			state.Optimistic = false
			state.Unconfirmed = false
			return state
		}
	}
	return models.DeviceState{TargetID: targetID, Category: cat}
}
