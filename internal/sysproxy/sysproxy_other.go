//go:build !windows

package sysproxy

// Registry is a no-op on platforms without the WinINET registry proxy.
// Traffic still flows through the engine's local inbounds; applications
// must be pointed at them manually.
type Registry struct{}

// New returns the platform system proxy controller.
func New() *Registry {
	return &Registry{}
}

func (Registry) Enable(host string, port int) error { return nil }

func (Registry) Disable() error { return nil }
