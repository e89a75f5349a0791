package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CommandAction names a user-issued command.
type CommandAction string

const (
	ActionShutterOpen        CommandAction = "shutter_open"
	ActionShutterClose       CommandAction = "shutter_close"
	ActionShutterStop        CommandAction = "shutter_stop"
	ActionShutterSetPosition CommandAction = "shutter_set_position"
	ActionAlarmArmAway       CommandAction = "alarm_arm_away"
	ActionAlarmArmHome       CommandAction = "alarm_arm_home"
	ActionAlarmDisarm        CommandAction = "alarm_disarm"
)

// Command is a user-issued write against one target.
type Command struct {
	TargetID string        `json:"targetId"`
	Action   CommandAction `json:"action"`

	// Position is required for shutter_set_position, 0-100.
	Position *int `json:"position,omitempty"`
}

// Category returns the category the command operates on.
func (c Command) Category() Category {
	switch c.Action {
	case ActionAlarmArmAway, ActionAlarmArmHome, ActionAlarmDisarm:
		return CategoryAlarm
	default:
		return CategoryShutter
	}
}

// Validate checks the command against the target's known capability.
func (c Command) Validate(target *DeviceState) error {
	if c.TargetID == "" {
		return fmt.Errorf("target id is required")
	}

	switch c.Action {
	case ActionShutterOpen, ActionShutterClose, ActionShutterStop:
		if target != nil && target.Category != CategoryShutter {
			return fmt.Errorf("target %s is %s, not a shutter", c.TargetID, target.Category)
		}
	case ActionShutterSetPosition:
		if target != nil && (target.Category != CategoryShutter || target.Shutter == nil || !target.Shutter.Positionable) {
			return fmt.Errorf("target %s does not support set_position", c.TargetID)
		}
		if c.Position == nil || *c.Position < 0 || *c.Position > 100 {
			return fmt.Errorf("position must be 0-100")
		}
	case ActionAlarmArmAway, ActionAlarmDisarm:
		if target != nil && target.Category != CategoryAlarm {
			return fmt.Errorf("target %s is %s, not an alarm", c.TargetID, target.Category)
		}
	case ActionAlarmArmHome:
		if target != nil && (target.Category != CategoryAlarm || target.Alarm == nil || !target.Alarm.SupportsHome) {
			return fmt.Errorf("target %s does not support arm_home", c.TargetID)
		}
	default:
		return fmt.Errorf("unknown action %q", c.Action)
	}

	return nil
}

// Satisfied reports whether a polled state confirms the command's desired
// outcome. A command is only ever reported confirmed on an exact match.
func (c Command) Satisfied(s DeviceState) bool {
	switch c.Action {
	case ActionShutterOpen:
		return s.Shutter != nil && s.Shutter.Position == 100 && !s.Shutter.Moving
	case ActionShutterClose:
		return s.Shutter != nil && s.Shutter.Position == 0 && !s.Shutter.Moving
	case ActionShutterStop:
		return s.Shutter != nil && !s.Shutter.Moving
	case ActionShutterSetPosition:
		return s.Shutter != nil && c.Position != nil && s.Shutter.Position == *c.Position && !s.Shutter.Moving
	case ActionAlarmArmAway:
		return s.Alarm != nil && s.Alarm.Mode == AlarmArmedAway
	case ActionAlarmArmHome:
		return s.Alarm != nil && s.Alarm.Mode == AlarmArmedHome
	case ActionAlarmDisarm:
		return s.Alarm != nil && s.Alarm.Mode == AlarmDisarmed
	}
	return false
}

// DesiredState returns the optimistic state published for the target while
// the command is pending, derived from the last polled state.
func (c Command) DesiredState(last DeviceState) DeviceState {
	out := last
	out.Optimistic = true
	out.Unconfirmed = false

	switch c.Action {
	case ActionShutterOpen:
		sh := shutterOf(last)
		sh.Position = 100
		sh.Moving = false
		out.Shutter = &sh
	case ActionShutterClose:
		sh := shutterOf(last)
		sh.Position = 0
		sh.Moving = false
		out.Shutter = &sh
	case ActionShutterStop:
		sh := shutterOf(last)
		sh.Moving = false
		out.Shutter = &sh
	case ActionShutterSetPosition:
		sh := shutterOf(last)
		if c.Position != nil {
			sh.Position = *c.Position
		}
		sh.Moving = false
		out.Shutter = &sh
	case ActionAlarmArmAway:
		al := alarmOf(last)
		al.Mode = AlarmArmedAway
		out.Alarm = &al
	case ActionAlarmArmHome:
		al := alarmOf(last)
		al.Mode = AlarmArmedHome
		out.Alarm = &al
	case ActionAlarmDisarm:
		al := alarmOf(last)
		al.Mode = AlarmDisarmed
		out.Alarm = &al
	}

	return out
}

func shutterOf(s DeviceState) ShutterState {
	if s.Shutter != nil {
		return *s.Shutter
	}
	return ShutterState{}
}

func alarmOf(s DeviceState) AlarmState {
	if s.Alarm != nil {
		return *s.Alarm
	}
	return AlarmState{}
}

// PendingCommand tracks a dispatched command between the write and the poll
// cycle that confirms or contradicts it. It is never silently dropped: it is
// confirmed, superseded by a newer command for the same target, or times out
// and is reported unconfirmed.
type PendingCommand struct {
	ID       uuid.UUID `json:"id"`
	Command  Command   `json:"command"`
	IssuedAt time.Time `json:"issuedAt"`
}
