package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freebox-home/freebox-bridge/internal/models"
)

func testDispatcher(client *fakeGatewayClient) (*Dispatcher, *Bus, *PendingTable) {
	bus := NewBus()
	pending := NewPendingTable()
	return NewDispatcher(client, bus, pending), bus, pending
}

func publishShutter(bus *Bus, states ...models.DeviceState) {
	bus.Publish(models.Snapshot{
		Category: models.CategoryShutter,
		States:   states,
		TakenAt:  time.Now(),
	})
}

func TestDispatchRegistersPendingAndWrites(t *testing.T) {
	client := newFakeGatewayClient()
	d, bus, pending := testDispatcher(client)
	publishShutter(bus, shutterState("7", 0))

	pc, err := d.Dispatch(context.Background(), models.Command{
		TargetID: "7",
		Action:   models.ActionShutterOpen,
	})
	require.NoError(t, err)
	require.NotNil(t, pc)

	require.Len(t, client.applied, 1)
	assert.Equal(t, models.ActionShutterOpen, client.applied[0].Action)

	all := pending.All()
	require.Len(t, all, 1)
	assert.Equal(t, pc.ID, all[0].ID)
}

func TestDispatchUnknownTarget(t *testing.T) {
	client := newFakeGatewayClient()
	d, bus, pending := testDispatcher(client)
	publishShutter(bus, shutterState("7", 0))

	_, err := d.Dispatch(context.Background(), models.Command{
		TargetID: "99",
		Action:   models.ActionShutterOpen,
	})
	require.Error(t, err)
	assert.Empty(t, client.applied)
	assert.Empty(t, pending.All())
}

func TestDispatchRejectsUnsupportedCapability(t *testing.T) {
	client := newFakeGatewayClient()
	d, bus, pending := testDispatcher(client)

	basic := shutterState("8", 0)
	basic.Shutter.Positionable = false
	publishShutter(bus, basic)

	pos := 40
	_, err := d.Dispatch(context.Background(), models.Command{
		TargetID: "8",
		Action:   models.ActionShutterSetPosition,
		Position: &pos,
	})
	require.Error(t, err)
	assert.Empty(t, client.applied)
	assert.Empty(t, pending.All())
}

func TestDispatchRemovesPendingOnWriteFailure(t *testing.T) {
	client := newFakeGatewayClient()
	client.applyErr = errors.New("gateway refused")
	d, bus, pending := testDispatcher(client)
	publishShutter(bus, shutterState("7", 0))

	_, err := d.Dispatch(context.Background(), models.Command{
		TargetID: "7",
		Action:   models.ActionShutterClose,
	})
	require.Error(t, err)
	assert.Empty(t, pending.All())
}

func TestDispatchSupersedesPendingForSameTarget(t *testing.T) {
	client := newFakeGatewayClient()
	d, bus, pending := testDispatcher(client)
	publishShutter(bus, shutterState("7", 0))
	ctx := context.Background()

	_, err := d.Dispatch(ctx, models.Command{TargetID: "7", Action: models.ActionShutterOpen})
	require.NoError(t, err)

	second, err := d.Dispatch(ctx, models.Command{TargetID: "7", Action: models.ActionShutterClose})
	require.NoError(t, err)

	all := pending.All()
	require.Len(t, all, 1)
	assert.Equal(t, second.ID, all[0].ID)
	assert.Equal(t, models.ActionShutterClose, all[0].Command.Action)
}

func TestDispatchBeforeFirstPoll(t *testing.T) {
	// With no snapshot yet the command is accepted on syntactic validity
	// alone; the gateway is the authority on whether it can run.
	client := newFakeGatewayClient()
	d, _, pending := testDispatcher(client)

	_, err := d.Dispatch(context.Background(), models.Command{
		TargetID: "7",
		Action:   models.ActionShutterOpen,
	})
	require.NoError(t, err)
	assert.Len(t, pending.All(), 1)
}
