package zen

import (
	"time"
)

// Device represents a roster entry from the device listing endpoint
type Device struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	LocationID    string    `json:"locationId"`
	HubMacAddress string    `json:"hubMacAddress"`
	ProvisionDate time.Time `json:"provisionDate"`
}

// Provisioned reports whether the device slot has actually been provisioned.
// The vendor fills unprovisioned slots with a zero date placeholder.
func (d Device) Provisioned() bool {
	return d.ProvisionDate.Year() > 1
}

// RelayStates holds the per-relay activation flags reported by a thermostat
type RelayStates struct {
	W1 bool `json:"w1"`
	W2 bool `json:"w2"`
	Y1 bool `json:"y1"`
	Y2 bool `json:"y2"`
	G  bool `json:"g"`
}

// DeviceStatus represents the live status attributes of one device
type DeviceStatus struct {
	IsOnline           bool        `json:"isOnline"`
	IsOnCWire          bool        `json:"isOnCWire"`
	Mode               int         `json:"mode"`
	CurrentTemperature float64     `json:"currentTemperature"`
	HeatingSetpoint    float64     `json:"heatingSetpoint"`
	CoolingSetpoint    float64     `json:"coolingSetpoint"`
	RelayStates        RelayStates `json:"relayStates"`
}

// UserInfo represents the account info response
type UserInfo struct {
	ConsumerID string `json:"consumerId"`
	Email      string `json:"email"`
}

// tokenResponse represents the OAuth token endpoint response
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// devicesResponse wraps the device roster returned by the getall endpoint
type devicesResponse struct {
	Devices []Device `json:"devices"`
}

// Thermostat modes accepted by SetMode
const (
	ModeHeat          = "heat"
	ModeEmergencyHeat = "emergency_heat"
	ModeCool          = "cool"
	ModeOff           = "off"
)

// modeEndpoints maps writable modes to their command endpoints
var modeEndpoints = map[string]string{
	ModeHeat:          "/api/v1/device/heat",
	ModeEmergencyHeat: "/api/v1/device/emergency/heat",
	ModeCool:          "/api/v1/device/cool",
	ModeOff:           "/api/v1/device/off",
}

// modeStrings maps the vendor's integer mode codes to mode names. Code 1 is
// a legacy alias the vendor still emits for heat.
var modeStrings = map[int]string{
	0: "heat",
	1: "heat",
	2: "cool",
	3: "off",
	4: "auto",
	5: "eco",
	6: "emergency_heat",
	7: "zen",
}

// ModeString converts a vendor mode code to its mode name
func ModeString(mode int) string {
	if s, ok := modeStrings[mode]; ok {
		return s
	}
	return "unknown"
}
