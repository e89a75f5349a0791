package models

import "time"

// Category identifies a class of gateway state polled as one unit. A poll
// cycle produces at most one snapshot per category; one category failing
// never blocks the others.
type Category string

const (
	CategoryShutter Category = "shutter"
	CategoryAlarm   Category = "alarm"
	CategorySensor  Category = "sensor"
	CategoryMetric  Category = "metric"
	CategoryLanHost Category = "lan_host"
)

// AllCategories lists every polled category in publish order.
var AllCategories = []Category{
	CategoryShutter,
	CategoryAlarm,
	CategorySensor,
	CategoryMetric,
	CategoryLanHost,
}

// Valid reports whether c names a known category.
func (c Category) Valid() bool {
	for _, k := range AllCategories {
		if c == k {
			return true
		}
	}
	return false
}

// AlarmMode represents the alarm panel mode.
type AlarmMode string

const (
	AlarmDisarmed  AlarmMode = "disarmed"
	AlarmArmedHome AlarmMode = "armed_home"
	AlarmArmedAway AlarmMode = "armed_away"
	AlarmTriggered AlarmMode = "triggered"
	AlarmPending   AlarmMode = "pending"
)

// ShutterState is the state of a motorized roller shutter. Position is
// 0 (closed) to 100 (fully open).
type ShutterState struct {
	Position int  `json:"position"`
	Moving   bool `json:"moving"`
	// Positionable is false for basic up/stop/down shutters that only
	// report an open/closed signal.
	Positionable bool `json:"positionable"`
}

// AlarmState is the state of the alarm panel.
type AlarmState struct {
	Mode AlarmMode `json:"mode"`
	// SupportsHome is true when the panel exposes a second (night/home) zone.
	SupportsHome bool `json:"supportsHome"`
}

// SensorState is the state of a security-pack sensor (motion, door/window,
// keyfob, camera activity).
type SensorState struct {
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// MetricState is a hardware health metric of the gateway itself.
type MetricState struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// LanHostState is a host known to the gateway's LAN browser.
type LanHostState struct {
	MAC       string     `json:"mac"`
	IP        string     `json:"ip,omitempty"`
	Name      string     `json:"name,omitempty"`
	Reachable bool       `json:"reachable"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
}

// DeviceState is an immutable state snapshot of one target. Exactly one of
// the variant pointers matching Category is set; anything else is a protocol
// bug on the producing side.
type DeviceState struct {
	TargetID string   `json:"targetId"`
	Label    string   `json:"label,omitempty"`
	Category Category `json:"category"`

	Shutter *ShutterState `json:"shutter,omitempty"`
	Alarm   *AlarmState   `json:"alarm,omitempty"`
	Sensor  *SensorState  `json:"sensor,omitempty"`
	Metric  *MetricState  `json:"metric,omitempty"`
	LanHost *LanHostState `json:"lanHost,omitempty"`

	// Optimistic marks a state published from a pending command's desired
	// value rather than from the gateway.
	Optimistic bool `json:"optimistic,omitempty"`
	// Unconfirmed marks a polled state published after a pending command
	// timed out without the gateway ever confirming it.
	Unconfirmed bool `json:"unconfirmed,omitempty"`
}

// Snapshot is the published result of polling one category. Snapshots are
// superseded wholesale by the next cycle; there is no partial merge.
type Snapshot struct {
	Category Category      `json:"category"`
	States   []DeviceState `json:"states"`
	TakenAt  time.Time     `json:"takenAt"`
	// Stale is true when this cycle's fetch for the category failed and the
	// previous known-good states were republished instead.
	Stale bool `json:"stale,omitempty"`
}

// Find returns the state for targetID, or nil.
func (s *Snapshot) Find(targetID string) *DeviceState {
	for i := range s.States {
		if s.States[i].TargetID == targetID {
			return &s.States[i]
		}
	}
	return nil
}
