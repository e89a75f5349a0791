package freebox

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/freebox-home/freebox-bridge/internal/models"
)

// Client is the typed gateway API surface the bridge polls and writes
// through. Every call authenticates through the session manager; a request
// rejected for a stale token is retried exactly once after renewal.
type Client struct {
	transport *Transport
	session   *SessionManager

	// slot endpoint ids per node, filled during polls so command writes
	// do not need an extra node fetch. unknownCats tracks node categories
	// already reported as unsupported so each is logged once.
	mu          sync.Mutex
	slots       map[int]map[string]int
	unknownCats map[string]struct{}
}

// NewClient creates a client on top of an authenticated session.
func NewClient(transport *Transport, session *SessionManager) *Client {
	return &Client{
		transport:   transport,
		session:     session,
		slots:       make(map[int]map[string]int),
		unknownCats: make(map[string]struct{}),
	}
}

// Session exposes the underlying session manager.
func (c *Client) Session() *SessionManager { return c.session }

// call runs one authenticated request. On an auth rejection the session is
// invalidated, renewed, and the request replayed once; a second rejection
// surfaces as-is.
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := c.session.EnsureSession(ctx)
	if err != nil {
		return err
	}

	err = c.transport.Do(ctx, method, path, body, token, out)
	if !IsAuthRejected(err) {
		return err
	}

	log.Debug().Str("path", path).Msg("Session rejected mid-call, renewing once")
	c.session.Invalidate()

	token, serr := c.session.EnsureSession(ctx)
	if serr != nil {
		return serr
	}
	return c.transport.Do(ctx, method, path, body, token, out)
}

// Fetch polls one category and returns its device states.
func (c *Client) Fetch(ctx context.Context, cat models.Category) ([]models.DeviceState, error) {
	switch cat {
	case models.CategoryShutter:
		return c.Shutters(ctx)
	case models.CategoryAlarm:
		return c.AlarmStates(ctx)
	case models.CategorySensor:
		return c.Sensors(ctx)
	case models.CategoryMetric:
		return c.Metrics(ctx)
	case models.CategoryLanHost:
		return c.LanHosts(ctx)
	default:
		return nil, fmt.Errorf("unknown category %q", cat)
	}
}

// homeNodes fetches the home automation node list and refreshes the slot
// endpoint cache as a side effect.
func (c *Client) homeNodes(ctx context.Context) ([]homeNode, error) {
	var nodes []homeNode
	if err := c.call(ctx, http.MethodGet, "home/nodes", nil, &nodes); err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, n := range nodes {
		if _, known := mappedNodeCategories[n.Category]; !known {
			if _, seen := c.unknownCats[n.Category]; !seen {
				c.unknownCats[n.Category] = struct{}{}
				log.Warn().
					Str("category", n.Category).
					Str("label", n.Label).
					Msg("Skipping unsupported home node category")
			}
		}
		slots := make(map[string]int)
		for _, ep := range n.ShowEndpoints {
			if ep.EpType == "slot" {
				slots[ep.Name] = ep.ID
			}
		}
		for _, ep := range n.Type.Endpoints {
			if ep.EpType == "slot" {
				if _, ok := slots[ep.Name]; !ok {
					slots[ep.Name] = ep.ID
				}
			}
		}
		c.slots[n.ID] = slots
	}
	c.mu.Unlock()

	return nodes, nil
}

// slotEndpoint resolves the endpoint id for a node's named slot, fetching
// the node when the cache has not seen it yet.
func (c *Client) slotEndpoint(ctx context.Context, nodeID int, slot string) (int, error) {
	c.mu.Lock()
	if slots, ok := c.slots[nodeID]; ok {
		if id, ok := slots[slot]; ok {
			c.mu.Unlock()
			return id, nil
		}
	}
	c.mu.Unlock()

	var node homeNode
	path := fmt.Sprintf("home/nodes/%d", nodeID)
	if err := c.call(ctx, http.MethodGet, path, nil, &node); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	slots := make(map[string]int)
	for _, ep := range node.ShowEndpoints {
		if ep.EpType == "slot" {
			slots[ep.Name] = ep.ID
		}
	}
	for _, ep := range node.Type.Endpoints {
		if ep.EpType == "slot" {
			if _, ok := slots[ep.Name]; !ok {
				slots[ep.Name] = ep.ID
			}
		}
	}
	c.slots[nodeID] = slots

	id, ok := slots[slot]
	if !ok {
		return 0, &APIError{Code: "unknown_slot", Message: fmt.Sprintf("node %d has no %q slot", nodeID, slot)}
	}
	return id, nil
}

type setValueRequest struct {
	Value interface{} `json:"value"`
}

// setSlot writes a value to a node's named slot endpoint. Trigger slots
// take a nil value.
func (c *Client) setSlot(ctx context.Context, nodeID int, slot string, value interface{}) error {
	epID, err := c.slotEndpoint(ctx, nodeID, slot)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("home/endpoints/%d/%d", nodeID, epID)
	return c.call(ctx, http.MethodPut, path, setValueRequest{Value: value}, nil)
}

// ApplyCommand performs the gateway write for a validated command.
func (c *Client) ApplyCommand(ctx context.Context, cmd models.Command) error {
	nodeID, err := strconv.Atoi(cmd.TargetID)
	if err != nil {
		return fmt.Errorf("target %q is not a gateway node", cmd.TargetID)
	}

	switch cmd.Action {
	case models.ActionShutterOpen:
		return c.setSlot(ctx, nodeID, "up", nil)
	case models.ActionShutterClose:
		return c.setSlot(ctx, nodeID, "down", nil)
	case models.ActionShutterStop:
		return c.setSlot(ctx, nodeID, "stop", nil)
	case models.ActionShutterSetPosition:
		if cmd.Position == nil {
			return fmt.Errorf("position is required")
		}
		// The gateway counts position from the top; the bridge exposes
		// 100 as fully open.
		return c.setSlot(ctx, nodeID, "position_set", 100-*cmd.Position)
	case models.ActionAlarmArmAway:
		return c.setSlot(ctx, nodeID, "alarm1", nil)
	case models.ActionAlarmArmHome:
		return c.setSlot(ctx, nodeID, "alarm2", nil)
	case models.ActionAlarmDisarm:
		return c.setSlot(ctx, nodeID, "off", nil)
	default:
		return fmt.Errorf("unknown action %q", cmd.Action)
	}
}

// Reboot asks the gateway to restart itself.
func (c *Client) Reboot(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "system/reboot/", nil, nil)
}

// Info returns the gateway's system identity.
func (c *Client) Info(ctx context.Context) (*GatewayInfo, error) {
	var sys systemConfig
	if err := c.call(ctx, http.MethodGet, "system/", nil, &sys); err != nil {
		return nil, err
	}

	return &GatewayInfo{
		Name:            sys.ModelInfo.PrettyName,
		Mac:             sys.Mac,
		Serial:          sys.Serial,
		FirmwareVersion: sys.FirmwareVersion,
		UptimeSeconds:   sys.UptimeVal,
		HasHome:         sys.ModelInfo.HasHomeAutomation,
	}, nil
}
