package main

import (
	"github.com/wailsapp/wails/v3/pkg/application"

	"veilbox/internal/core"
)

// Frontend event names.
const (
	evtTrayState      = "tray:state"
	evtNotification   = "tray:notification"
	evtError          = "tray:error"
	evtThroughput     = "core:throughput"
	evtSessionTick    = "session:tick"
	evtProfiles       = "profiles:changed"
	evtSubscription   = "subscription:updated"
	evtPublicAddress  = "net:publicAddress"
	evtRequestProfile = "tray:requestProfile"
)

// bridgeEvents forwards bus events to the frontend and to toasts.
func bridgeEvents(app *application.App, bus *core.EventBus, notif *NotificationManager) {
	bus.Subscribe(core.EventSessionStateChanged, func(e core.Event) {
		p, ok := e.Payload.(core.SessionStatePayload)
		if !ok {
			return
		}
		app.Event.Emit(evtTrayState, map[string]any{
			"state":     p.NewState.String(),
			"profileId": p.ProfileID,
			"message":   p.Message,
		})
		if p.NewState == core.StateError && p.Message != "" {
			notif.NotifyConnectionError(p.Message)
		}
	})

	bus.Subscribe(core.EventThroughput, func(e core.Event) {
		app.Event.Emit(evtThroughput, e.Payload)
	})

	bus.Subscribe(core.EventSessionTick, func(e core.Event) {
		if p, ok := e.Payload.(core.TickPayload); ok {
			app.Event.Emit(evtSessionTick, p.Elapsed)
		}
	})

	bus.Subscribe(core.EventProfilesChanged, func(e core.Event) {
		app.Event.Emit(evtProfiles, e.Payload)
	})

	bus.Subscribe(core.EventSubscriptionUpdated, func(e core.Event) {
		p, ok := e.Payload.(core.SubscriptionUpdatePayload)
		if !ok {
			return
		}
		msg := map[string]any{
			"subscriptionId": p.SubscriptionID,
			"profileCount":   p.ProfileCount,
		}
		if p.Err != nil {
			msg["error"] = p.Err.Error()
		}
		app.Event.Emit(evtSubscription, msg)
	})

	bus.Subscribe(core.EventPublicAddressChanged, func(e core.Event) {
		app.Event.Emit(evtPublicAddress, e.Payload)
	})

	bus.Subscribe(core.EventNotification, func(e core.Event) {
		if p, ok := e.Payload.(core.NoticePayload); ok {
			app.Event.Emit(evtNotification, p.Message)
		}
	})

	bus.Subscribe(core.EventErrorNotice, func(e core.Event) {
		if p, ok := e.Payload.(core.NoticePayload); ok {
			app.Event.Emit(evtError, p.Message)
		}
	})

	bus.Subscribe(core.EventRequestProfile, func(e core.Event) {
		app.Event.Emit(evtRequestProfile, nil)
	})
}
