package bridge

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/freebox-home/freebox-bridge/internal/models"
)

// PendingTable tracks commands between the gateway write and the poll cycle
// that settles them. At most one command is pending per target: a newer
// command for the same target supersedes the older one.
type PendingTable struct {
	mu       sync.Mutex
	byTarget map[string]models.PendingCommand
}

// NewPendingTable creates an empty pending table.
func NewPendingTable() *PendingTable {
	return &PendingTable{byTarget: make(map[string]models.PendingCommand)}
}

// Add registers a command as pending, superseding any earlier command for
// the same target.
func (t *PendingTable) Add(cmd models.Command) models.PendingCommand {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.byTarget[cmd.TargetID]; ok {
		log.Debug().
			Str("targetId", cmd.TargetID).
			Str("superseded", string(old.Command.Action)).
			Str("by", string(cmd.Action)).
			Msg("Pending command superseded")
	}

	pc := models.PendingCommand{
		ID:       uuid.New(),
		Command:  cmd,
		IssuedAt: time.Now(),
	}
	t.byTarget[cmd.TargetID] = pc
	return pc
}

// Remove drops the pending command for a target if its id still matches,
// so a settled command never removes its successor.
func (t *PendingTable) Remove(targetID string, id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pc, ok := t.byTarget[targetID]; ok && pc.ID == id {
		delete(t.byTarget, targetID)
	}
}

// ForCategory returns the pending commands operating on one category.
func (t *PendingTable) ForCategory(cat models.Category) []models.PendingCommand {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []models.PendingCommand
	for _, pc := range t.byTarget {
		if pc.Command.Category() == cat {
			out = append(out, pc)
		}
	}
	return out
}

// All returns every pending command.
func (t *PendingTable) All() []models.PendingCommand {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.PendingCommand, 0, len(t.byTarget))
	for _, pc := range t.byTarget {
		out = append(out, pc)
	}
	return out
}
