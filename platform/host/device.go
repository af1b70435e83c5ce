package host

import (
	"os"
	"runtime"

	"github.com/adbtoolkit/agent/api"
	"github.com/adbtoolkit/agent/internal/version"
)

// Device is the host device-info provider.
type Device struct{}

// NewDevice creates the provider.
func NewDevice() *Device { return &Device{} }

// Info returns host identity fields in the shape device/info expects.
func (d *Device) Info() (map[string]string, error) {
	hostname, _ := os.Hostname()
	return map[string]string{
		"model":         hostname,
		"os":            runtime.GOOS,
		"arch":          runtime.GOARCH,
		"agent_version": version.Version,
	}, nil
}

// Battery reports a mains-powered host as a full, charging battery.
func (d *Device) Battery() (api.BatteryStatus, error) {
	return api.BatteryStatus{Level: 100, Charging: true}, nil
}

// Properties exposes the process environment as the property map.
func (d *Device) Properties() (map[string]string, error) {
	props := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				props[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return props, nil
}

// Screenshot is unsupported on a headless host.
func (d *Device) Screenshot() ([]byte, error) {
	return nil, api.ErrUnsupported
}

// Permissions is unsupported on a host: there is no permission model to
// report.
func (d *Device) Permissions() ([]string, error) {
	return nil, api.ErrUnsupported
}

// Security reports a fixed device-security answer. Hosts have no screen
// lock, so deployments decide what to assert.
type Security struct {
	Secure bool
}

// DeviceSecure implements api.SecurityProvider.
func (s Security) DeviceSecure() bool { return s.Secure }
