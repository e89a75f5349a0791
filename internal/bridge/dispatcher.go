package bridge

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/freebox-home/freebox-bridge/internal/models"
)

// GatewayWriter is the command surface of the gateway client.
type GatewayWriter interface {
	ApplyCommand(ctx context.Context, cmd models.Command) error
}

// Dispatcher validates and issues commands. It returns as soon as the
// gateway accepted the write; confirmation is the poll loop's job.
type Dispatcher struct {
	client  GatewayWriter
	bus     *Bus
	pending *PendingTable
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(client GatewayWriter, bus *Bus, pending *PendingTable) *Dispatcher {
	return &Dispatcher{client: client, bus: bus, pending: pending}
}

// Dispatch validates cmd against the last polled state of its target,
// registers it pending, and performs the gateway write. A rejected write
// unregisters the command so it never lingers as falsely pending.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd models.Command) (*models.PendingCommand, error) {
	var target *models.DeviceState
	if snap, ok := d.bus.Latest(cmd.Category()); ok {
		target = snap.Find(cmd.TargetID)
		if target == nil {
			return nil, fmt.Errorf("unknown target %q", cmd.TargetID)
		}
	}

	if err := cmd.Validate(target); err != nil {
		return nil, err
	}

	pc := d.pending.Add(cmd)

	if err := d.client.ApplyCommand(ctx, cmd); err != nil {
		d.pending.Remove(cmd.TargetID, pc.ID)
		return nil, fmt.Errorf("apply command: %w", err)
	}

	log.Info().
		Str("targetId", cmd.TargetID).
		Str("action", string(cmd.Action)).
		Msg("Command dispatched")
	return &pc, nil
}
