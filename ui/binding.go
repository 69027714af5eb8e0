package main

import (
	"runtime"

	"veilbox/internal/core"
	"veilbox/internal/service"
)

// BindingService is exposed to the frontend via Wails bindings.
// Each public method becomes callable from JavaScript.
type BindingService struct {
	svc      *service.Service
	bus      *core.EventBus
	notifMgr *NotificationManager
}

// NewBindingService creates a BindingService wrapping the orchestrator.
func NewBindingService(svc *service.Service, bus *core.EventBus) *BindingService {
	return &BindingService{
		svc:      svc,
		bus:      bus,
		notifMgr: NewNotificationManager(),
	}
}

// GetPlatform returns the OS identifier ("windows", "darwin", etc.)
// so the frontend can adapt UI hints per platform.
func (b *BindingService) GetPlatform() string {
	return runtime.GOOS
}
