package models

import "strings"

// SDKVersion is reported to the provider in every request envelope.
const SDKVersion = "3.34.4"

// Device type codes understood by the provider API.
const (
	DeviceTypeSafari  = 10
	DeviceTypeChrome  = 11
	DeviceTypeFirefox = 12
	DeviceTypeEdge    = 150
)

// DeviceIdentity is the stable per-installation identity sent with every
// provider call. HWID is generated once per installation and survives until
// the application code changes.
type DeviceIdentity struct {
	ApplicationCode string
	HWID            string
	DeviceType      int
	DeviceModel     string
	Language        string
	UserID          string
}

// DeviceTypeForModel maps a browser model string to its provider code.
func DeviceTypeForModel(model string) int {
	switch {
	case containsFold(model, "firefox"):
		return DeviceTypeFirefox
	case containsFold(model, "edge"):
		return DeviceTypeEdge
	case containsFold(model, "safari"):
		return DeviceTypeSafari
	default:
		return DeviceTypeChrome
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
