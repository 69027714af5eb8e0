//go:build windows

package main

import (
	"sync"
	"time"

	"github.com/go-toast/toast"

	"veilbox/internal/core"
)

// NotificationManager sends Windows toast notifications with per-key
// throttling so a flapping connection doesn't spam the user.
type NotificationManager struct {
	mu        sync.Mutex
	enabled   bool
	lastNotif map[string]time.Time
	throttle  time.Duration
	appName   string
}

// NewNotificationManager creates a notification manager with default settings.
func NewNotificationManager() *NotificationManager {
	return &NotificationManager{
		enabled:   true,
		lastNotif: make(map[string]time.Time),
		throttle:  30 * time.Second,
		appName:   "VeilBox",
	}
}

// SetEnabled toggles notifications.
func (nm *NotificationManager) SetEnabled(enabled bool) {
	nm.mu.Lock()
	nm.enabled = enabled
	nm.mu.Unlock()
}

// NotifyConnectionError sends a notification about a connection failure.
func (nm *NotificationManager) NotifyConnectionError(message string) {
	if !nm.allow("connection_error") {
		return
	}
	go nm.send("Connection failed", message)
}

// NotifyDisconnected sends a notification about an unexpected drop.
func (nm *NotificationManager) NotifyDisconnected() {
	if !nm.allow("disconnected") {
		return
	}
	go nm.send("Connection lost", "The tunnel was disconnected")
}

func (nm *NotificationManager) allow(key string) bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	if !nm.enabled {
		return false
	}
	if time.Since(nm.lastNotif[key]) < nm.throttle {
		return false
	}
	nm.lastNotif[key] = time.Now()
	return true
}

func (nm *NotificationManager) send(title, message string) {
	n := toast.Notification{
		AppID:   nm.appName,
		Title:   title,
		Message: message,
	}
	if err := n.Push(); err != nil {
		core.Log.Warnf("UI", "Toast notification: %v", err)
	}
}
