package freebox

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freebox-home/freebox-bridge/internal/models"
)

// Alarm control node states reported on the "state" signal.
const (
	alarmStateIdle       = "idle"
	alarmStateAwayArming = "alarm1_arming"
	alarmStateAwayArmed  = "alarm1_armed"
	alarmStateHomeArming = "alarm2_arming"
	alarmStateHomeArmed  = "alarm2_armed"
	alarmStateAlertTimer = "alarm1_alert_timer"
	alarmStateAlert      = "alert"
)

// Shutters returns the state of every roller shutter node. Positionable
// shutters report a percentage; basic ones only an open/closed signal.
func (c *Client) Shutters(ctx context.Context) ([]models.DeviceState, error) {
	nodes, err := c.homeNodes(ctx)
	if err != nil {
		return nil, err
	}

	var states []models.DeviceState
	for _, n := range nodes {
		switch n.Category {
		case nodeCategoryShutter, nodeCategoryOpener:
			sh := models.ShutterState{Positionable: true}
			if raw, ok := n.signalInt("position_set"); ok {
				// Gateway position counts from the top, the bridge
				// from the bottom.
				sh.Position = 100 - raw
			}
			if moving, ok := n.signalBool("moving"); ok {
				sh.Moving = moving
			}
			states = append(states, models.DeviceState{
				TargetID: strconv.Itoa(n.ID),
				Label:    n.Label,
				Category: models.CategoryShutter,
				Shutter:  &sh,
			})

		case nodeCategoryBasicShutter:
			sh := models.ShutterState{}
			if closed, ok := n.signalBool("state"); ok && !closed {
				sh.Position = 100
			}
			states = append(states, models.DeviceState{
				TargetID: strconv.Itoa(n.ID),
				Label:    n.Label,
				Category: models.CategoryShutter,
				Shutter:  &sh,
			})
		}
	}

	return states, nil
}

// AlarmStates returns the state of every alarm control node.
func (c *Client) AlarmStates(ctx context.Context) ([]models.DeviceState, error) {
	nodes, err := c.homeNodes(ctx)
	if err != nil {
		return nil, err
	}

	var states []models.DeviceState
	for _, n := range nodes {
		if n.Category != nodeCategoryAlarm {
			continue
		}

		al := models.AlarmState{Mode: models.AlarmDisarmed}
		if raw, ok := n.signalString("state"); ok {
			al.Mode = alarmModeOf(raw)
		}
		// A second zone slot means the panel supports home arming.
		al.SupportsHome = n.endpoint("slot", "alarm2") != nil

		states = append(states, models.DeviceState{
			TargetID: strconv.Itoa(n.ID),
			Label:    n.Label,
			Category: models.CategoryAlarm,
			Alarm:    &al,
		})
	}

	return states, nil
}

func alarmModeOf(raw string) models.AlarmMode {
	switch raw {
	case alarmStateIdle:
		return models.AlarmDisarmed
	case alarmStateAwayArming, alarmStateHomeArming:
		return models.AlarmPending
	case alarmStateAwayArmed:
		return models.AlarmArmedAway
	case alarmStateHomeArmed:
		return models.AlarmArmedHome
	case alarmStateAlert, alarmStateAlertTimer:
		return models.AlarmTriggered
	default:
		log.Warn().Str("state", raw).Msg("Unknown alarm state, reporting disarmed")
		return models.AlarmDisarmed
	}
}

// Sensors returns the state of the security-pack sensors: motion detectors,
// door/window sensors, keyfobs and cameras.
func (c *Client) Sensors(ctx context.Context) ([]models.DeviceState, error) {
	nodes, err := c.homeNodes(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var states []models.DeviceState
	for _, n := range nodes {
		var sensor *models.SensorState

		switch n.Category {
		case nodeCategoryPIR:
			// The trigger signal is low-active: false means motion.
			value := "clear"
			if trigger, ok := n.signalBool("trigger"); ok && !trigger {
				value = "detected"
			}
			sensor = &models.SensorState{Kind: "motion", Value: value}

		case nodeCategoryDWS:
			value := "closed"
			if trigger, ok := n.signalBool("trigger"); ok && !trigger {
				value = "open"
			}
			sensor = &models.SensorState{Kind: "door_window", Value: value}

		case nodeCategoryKeyfob:
			value := "idle"
			if pushed, ok := n.signalBool("pushed"); ok && pushed {
				value = "pushed"
			}
			sensor = &models.SensorState{Kind: "keyfob", Value: value}

		case nodeCategoryCamera:
			value := "inactive"
			if active, ok := n.signalBool("activation"); ok && active {
				value = "active"
			}
			sensor = &models.SensorState{Kind: "camera", Value: value}
		}

		if sensor == nil {
			continue
		}
		sensor.Timestamp = now
		states = append(states, models.DeviceState{
			TargetID: strconv.Itoa(n.ID),
			Label:    n.Label,
			Category: models.CategorySensor,
			Sensor:   sensor,
		})
	}

	return states, nil
}

// Metrics returns the gateway's own health metrics: temperatures, fan
// speeds, uptime, disk usage and connection rates.
func (c *Client) Metrics(ctx context.Context) ([]models.DeviceState, error) {
	var sys systemConfig
	if err := c.call(ctx, http.MethodGet, "system/", nil, &sys); err != nil {
		return nil, err
	}

	var states []models.DeviceState
	metric := func(id, name string, value float64, unit string) {
		states = append(states, models.DeviceState{
			TargetID: id,
			Label:    name,
			Category: models.CategoryMetric,
			Metric:   &models.MetricState{Name: name, Value: value, Unit: unit},
		})
	}

	for _, s := range sys.Sensors {
		metric("system:"+s.ID, s.Name, s.Value, "°C")
	}
	for _, f := range sys.Fans {
		metric("system:"+f.ID, f.Name, f.Value, "rpm")
	}
	metric("system:uptime", "Uptime", float64(sys.UptimeVal), "s")

	// Disk and connection metrics are best effort: boxes without a disk
	// reject the storage endpoint with a plain API error.
	var disks []storageDisk
	if err := c.call(ctx, http.MethodGet, "storage/disk/", nil, &disks); err == nil {
		for _, d := range disks {
			for _, p := range d.Partitions {
				if p.TotalBytes == 0 {
					continue
				}
				used := float64(p.TotalBytes-p.FreeBytes) / float64(p.TotalBytes) * 100
				id := fmt.Sprintf("disk:%d:%s", d.ID, strings.ToLower(p.Label))
				metric(id, p.Label+" usage", used, "%")
			}
		}
	} else if IsTransient(err) {
		return nil, err
	}

	var conn connectionStatus
	if err := c.call(ctx, http.MethodGet, "connection/", nil, &conn); err == nil {
		metric("connection:rate_up", "Upload rate", float64(conn.RateUp), "B/s")
		metric("connection:rate_down", "Download rate", float64(conn.RateDown), "B/s")
	} else if IsTransient(err) {
		return nil, err
	}

	return states, nil
}

// LanHosts returns the hosts known to the gateway's LAN browser, for
// presence tracking.
func (c *Client) LanHosts(ctx context.Context) ([]models.DeviceState, error) {
	var hosts []lanHost
	if err := c.call(ctx, http.MethodGet, "lan/browser/pub/", nil, &hosts); err != nil {
		return nil, err
	}

	var states []models.DeviceState
	for _, h := range hosts {
		if h.L2Ident.Type != "mac_address" || h.L2Ident.ID == "" {
			continue
		}

		state := models.LanHostState{
			MAC:       strings.ToLower(h.L2Ident.ID),
			Name:      h.PrimaryName,
			Reachable: h.Active,
		}
		for _, l3 := range h.L3Connectivities {
			if l3.Af == "ipv4" && l3.Active {
				state.IP = l3.Addr
				break
			}
		}
		if h.LastActivity > 0 {
			t := time.Unix(h.LastActivity, 0)
			state.LastSeen = &t
		}

		states = append(states, models.DeviceState{
			TargetID: state.MAC,
			Label:    h.PrimaryName,
			Category: models.CategoryLanHost,
			LanHost:  &state,
		})
	}

	return states, nil
}
