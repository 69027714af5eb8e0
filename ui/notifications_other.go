//go:build !windows

package main

// NotificationManager is a no-op on platforms without toast support.
type NotificationManager struct{}

func NewNotificationManager() *NotificationManager { return &NotificationManager{} }

func (nm *NotificationManager) SetEnabled(enabled bool) {}

func (nm *NotificationManager) NotifyConnectionError(message string) {}

func (nm *NotificationManager) NotifyDisconnected() {}
