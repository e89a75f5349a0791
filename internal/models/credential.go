package models

import "time"

// PairingStatus represents the pairing state between the bridge and a gateway.
type PairingStatus string

const (
	PairingUnpaired             PairingStatus = "unpaired"
	PairingAwaitingConfirmation PairingStatus = "awaiting_confirmation"
	PairingPaired               PairingStatus = "paired"
)

// AppCredential is the long-lived application credential granted by the
// gateway after the user confirms the pairing on the device itself. It is
// persisted by the storage layer and never regenerated automatically.
type AppCredential struct {
	Host      string    `json:"host" db:"host"`
	AppID     string    `json:"appId" db:"app_id"`
	AppToken  string    `json:"-" db:"app_token"`
	TrackID   int       `json:"trackId" db:"track_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// AppDescription identifies the bridge to the gateway during authorization.
type AppDescription struct {
	AppID      string `json:"app_id" yaml:"app_id"`
	AppName    string `json:"app_name" yaml:"app_name"`
	AppVersion string `json:"app_version" yaml:"app_version"`
	DeviceName string `json:"device_name" yaml:"device_name"`
}
