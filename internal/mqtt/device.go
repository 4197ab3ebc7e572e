package mqtt

import "github.com/nugget/thingy-control/internal/buildinfo"

// DeviceInfo holds the Home Assistant device registry fields shared
// across all MQTT discovery config payloads. Every entity published by
// this instance references the same device block so HA groups them
// under a single device page.
type DeviceInfo struct {
	Identifiers  []string    `json:"identifiers"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
	Model        string      `json:"model"`
	SWVersion    string      `json:"sw_version"`
	Connections  [][2]string `json:"connections,omitempty"`
}

// SensorConfig is the JSON payload for an HA MQTT sensor or
// binary_sensor discovery message. It is published (retained) to the
// discovery topic on every broker (re-)connect.
type SensorConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
	DeviceClass       string     `json:"device_class,omitempty"`
	Options           []string   `json:"options,omitempty"`
	PayloadOn         string     `json:"payload_on,omitempty"`
	PayloadOff        string     `json:"payload_off,omitempty"`
}

// NewDeviceInfo creates a DeviceInfo from the persistent instance ID,
// the human-readable device name and the peripheral address. The
// instance ID is the primary HA device identifier (stable across
// renames); the peripheral address is listed as a bluetooth connection.
func NewDeviceInfo(instanceID, deviceName, peripheral string) DeviceInfo {
	info := DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "Hollow Oak",
		Model:        "Thingy Controller",
		SWVersion:    buildinfo.Short(),
	}
	if peripheral != "" {
		info.Connections = [][2]string{{"bluetooth", peripheral}}
	}
	return info
}
