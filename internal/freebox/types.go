package freebox

import "encoding/json"

// ---------- login / authorization ----------

type loginStatus struct {
	LoggedIn  bool   `json:"logged_in"`
	Challenge string `json:"challenge"`
}

type sessionRequest struct {
	AppID      string `json:"app_id"`
	AppVersion string `json:"app_version,omitempty"`
	Password   string `json:"password"`
}

type sessionResult struct {
	SessionToken string          `json:"session_token"`
	Challenge    string          `json:"challenge"`
	Permissions  map[string]bool `json:"permissions"`
}

type authorizeResult struct {
	AppToken string `json:"app_token"`
	TrackID  int    `json:"track_id"`
}

// Authorization track statuses reported by the gateway while the user is
// expected to press the front-panel button.
const (
	trackPending = "pending"
	trackGranted = "granted"
	trackDenied  = "denied"
	trackTimeout = "timeout"
	trackUnknown = "unknown"
)

type trackResult struct {
	Status    string `json:"status"`
	Challenge string `json:"challenge"`
}

// ---------- home automation nodes ----------

// Home node categories the bridge maps to device states. Anything else is
// logged once and skipped.
const (
	nodeCategoryPIR          = "pir"
	nodeCategoryCamera       = "camera"
	nodeCategoryAlarm        = "alarm"
	nodeCategoryDWS          = "dws"
	nodeCategoryKeyfob       = "kfb"
	nodeCategoryBasicShutter = "basic_shutter"
	nodeCategoryOpener       = "opener"
	nodeCategoryShutter      = "shutter"
)

var mappedNodeCategories = map[string]struct{}{
	nodeCategoryPIR:          {},
	nodeCategoryCamera:       {},
	nodeCategoryAlarm:        {},
	nodeCategoryDWS:          {},
	nodeCategoryKeyfob:       {},
	nodeCategoryBasicShutter: {},
	nodeCategoryOpener:       {},
	nodeCategoryShutter:      {},
}

type homeNode struct {
	ID            int            `json:"id"`
	Label         string         `json:"label"`
	Category      string         `json:"category"`
	ShowEndpoints []homeEndpoint `json:"show_endpoints"`
	Type          homeNodeType   `json:"type"`
}

type homeNodeType struct {
	Endpoints []homeEndpoint `json:"endpoints"`
	Inherit   string         `json:"inherit"`
	Icon      string         `json:"icon"`
}

type homeEndpoint struct {
	ID     int             `json:"id"`
	Name   string          `json:"name"`
	EpType string          `json:"ep_type"`
	Value  json.RawMessage `json:"value"`
}

type endpointValue struct {
	Value json.RawMessage `json:"value"`
}

// endpoint finds an endpoint by ep_type and name, or nil.
func (n homeNode) endpoint(epType, name string) *homeEndpoint {
	for i := range n.ShowEndpoints {
		if n.ShowEndpoints[i].EpType == epType && n.ShowEndpoints[i].Name == name {
			return &n.ShowEndpoints[i]
		}
	}
	for i := range n.Type.Endpoints {
		if n.Type.Endpoints[i].EpType == epType && n.Type.Endpoints[i].Name == name {
			return &n.Type.Endpoints[i]
		}
	}
	return nil
}

// signalInt decodes a signal endpoint value as an int.
func (n homeNode) signalInt(name string) (int, bool) {
	ep := n.endpoint("signal", name)
	if ep == nil || ep.Value == nil {
		return 0, false
	}
	var v int
	if err := json.Unmarshal(ep.Value, &v); err != nil {
		return 0, false
	}
	return v, true
}

// signalBool decodes a signal endpoint value as a bool.
func (n homeNode) signalBool(name string) (bool, bool) {
	ep := n.endpoint("signal", name)
	if ep == nil || ep.Value == nil {
		return false, false
	}
	var v bool
	if err := json.Unmarshal(ep.Value, &v); err != nil {
		return false, false
	}
	return v, true
}

// signalString decodes a signal endpoint value as a string.
func (n homeNode) signalString(name string) (string, bool) {
	ep := n.endpoint("signal", name)
	if ep == nil || ep.Value == nil {
		return "", false
	}
	var v string
	if err := json.Unmarshal(ep.Value, &v); err != nil {
		return "", false
	}
	return v, true
}

// ---------- LAN browser ----------

type lanHost struct {
	PrimaryName      string           `json:"primary_name"`
	HostType         string           `json:"host_type"`
	Active           bool             `json:"active"`
	LastActivity     int64            `json:"last_activity"`
	L2Ident          l2Ident          `json:"l2ident"`
	L3Connectivities []l3Connectivity `json:"l3connectivities"`
}

type l2Ident struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type l3Connectivity struct {
	Addr   string `json:"addr"`
	Af     string `json:"af"`
	Active bool   `json:"active"`
}

// ---------- system / storage / connection ----------

type systemConfig struct {
	FirmwareVersion string         `json:"firmware_version"`
	Mac             string         `json:"mac"`
	Serial          string         `json:"serial"`
	UptimeVal       int64          `json:"uptime_val"`
	Sensors         []systemSensor `json:"sensors"`
	Fans            []systemSensor `json:"fans"`
	ModelInfo       modelInfo      `json:"model_info"`
}

type systemSensor struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type modelInfo struct {
	PrettyName        string `json:"pretty_name"`
	HasHomeAutomation bool   `json:"has_home_automation"`
}

type storageDisk struct {
	ID         int             `json:"id"`
	Type       string          `json:"type"`
	Partitions []diskPartition `json:"partitions"`
}

type diskPartition struct {
	Label      string `json:"label"`
	TotalBytes int64  `json:"total_bytes"`
	FreeBytes  int64  `json:"free_bytes"`
}

type connectionStatus struct {
	State    string `json:"state"`
	Media    string `json:"media"`
	IPv4     string `json:"ipv4"`
	IPv6     string `json:"ipv6"`
	RateUp   int64  `json:"rate_up"`
	RateDown int64  `json:"rate_down"`
}

// GatewayInfo is the system identity exposed through the local API.
type GatewayInfo struct {
	Name            string `json:"name"`
	Mac             string `json:"mac"`
	Serial          string `json:"serial"`
	FirmwareVersion string `json:"firmwareVersion"`
	UptimeSeconds   int64  `json:"uptimeSeconds"`
	HasHome         bool   `json:"hasHome"`
}
