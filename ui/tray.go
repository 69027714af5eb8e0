package main

import (
	"github.com/wailsapp/wails/v3/pkg/application"
	"github.com/wailsapp/wails/v3/pkg/icons"

	"veilbox/internal/core"
	"veilbox/internal/service"
)

func setupTray(app *application.App, mainWindow *application.WebviewWindow, svc *service.Service, bus *core.EventBus) {
	systray := app.SystemTray.New()
	systray.SetIcon(icons.SystrayLight)
	systray.SetLabel("VeilBox")

	// Left-click on tray icon opens the main window.
	systray.OnClick(func() {
		mainWindow.Show()
		mainWindow.Focus()
	})

	menu := app.Menu.New()

	connectItem := menu.Add("Connect")
	connectItem.OnClick(func(_ *application.Context) {
		switch svc.Session().State {
		case core.StateConnected, core.StateConnecting:
			if err := svc.Disconnect(); err != nil {
				core.Log.Warnf("UI", "Tray disconnect: %v", err)
			}
		default:
			if svc.SelectedProfileID() == "" {
				// Nothing selected: surface the window and ask the
				// frontend to open the profile picker.
				mainWindow.Show()
				mainWindow.Focus()
				bus.Publish(core.Event{Type: core.EventRequestProfile})
				return
			}
			if err := svc.Connect(service.ConnectOptions{}); err != nil {
				core.Log.Warnf("UI", "Tray connect: %v", err)
			}
		}
	})

	menu.AddSeparator()

	menu.Add("Show Dashboard").OnClick(func(_ *application.Context) {
		mainWindow.Show()
		mainWindow.Focus()
	})
	menu.Add("Hide Window").OnClick(func(_ *application.Context) {
		mainWindow.Hide()
	})

	menu.AddSeparator()

	menu.Add("Quit").OnClick(func(_ *application.Context) {
		app.Quit()
	})

	systray.SetMenu(menu)

	// Keep the tray in sync with the session state machine.
	bus.Subscribe(core.EventSessionStateChanged, func(e core.Event) {
		p, ok := e.Payload.(core.SessionStatePayload)
		if !ok {
			return
		}
		switch p.NewState {
		case core.StateConnected:
			systray.SetLabel("VeilBox - Connected")
			connectItem.SetLabel("Disconnect")
			connectItem.SetChecked(true)
		case core.StateConnecting:
			systray.SetLabel("VeilBox - Connecting...")
			connectItem.SetLabel("Disconnect")
		case core.StateError:
			systray.SetLabel("VeilBox - Error")
			connectItem.SetLabel("Connect")
			connectItem.SetChecked(false)
		default:
			systray.SetLabel("VeilBox")
			connectItem.SetLabel("Connect")
			connectItem.SetChecked(false)
		}
	})
}
