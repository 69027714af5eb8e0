//go:build windows

package sysproxy

import (
	"fmt"

	"golang.org/x/sys/windows/registry"
)

const internetSettingsKey = `Software\Microsoft\Windows\CurrentVersion\Internet Settings`

// Registry toggles the per-user WinINET proxy settings that browsers
// and most desktop applications honor.
type Registry struct{}

// New returns the platform system proxy controller.
func New() *Registry {
	return &Registry{}
}

// Enable points the system proxy at host:port.
func (Registry) Enable(host string, port int) error {
	k, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsKey, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open internet settings key: %w", err)
	}
	defer k.Close()
	if err := k.SetDWordValue("ProxyEnable", 1); err != nil {
		return fmt.Errorf("set ProxyEnable: %w", err)
	}
	if err := k.SetStringValue("ProxyServer", fmt.Sprintf("%s:%d", host, port)); err != nil {
		return fmt.Errorf("set ProxyServer: %w", err)
	}
	return nil
}

// Disable turns the system proxy off. The ProxyServer value is left in
// place so re-enabling restores the previous address.
func (Registry) Disable() error {
	k, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsKey, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open internet settings key: %w", err)
	}
	defer k.Close()
	if err := k.SetDWordValue("ProxyEnable", 0); err != nil {
		return fmt.Errorf("set ProxyEnable: %w", err)
	}
	return nil
}
