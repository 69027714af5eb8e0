package main

import (
	"embed"
	"log"
	"os"
	"path/filepath"

	"github.com/wailsapp/wails/v3/pkg/application"
	"github.com/wailsapp/wails/v3/pkg/events"

	"veilbox/internal/core"
	"veilbox/internal/engine"
	"veilbox/internal/service"
	"veilbox/internal/sysproxy"
	"veilbox/internal/vless"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	cfgPath := configPath()
	cm := core.NewConfigManager(cfgPath)
	if err := cm.Load(); err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}
	cfg := cm.Get()
	core.Log = core.NewLogger(cfg.Logging)

	kv, err := core.NewFileKV(cfg.StatePath)
	if err != nil {
		log.Fatalf("Cannot open state store: %v", err)
	}

	bus := core.NewEventBus()
	ring := core.NewTelemetryRing()
	logs := engine.NewLogRing(500)
	runner := engine.NewRunner(cfg.Engine, logs)
	session := core.NewSession(runner, sysproxy.New(), bus, ring)
	runner.OnExit(func(err error) {
		session.HandleEngineDown(err)
	})

	svc := service.New(service.Config{
		AppConfig:           cfg,
		StateStore:          core.NewStateStore(kv),
		SubscriptionManager: core.NewSubscriptionManager(cfg),
		Session:             session,
		Engine:              runner,
		EventBus:            bus,
		TelemetryRing:       ring,
		Parse:               vless.Describe,
	})

	binding := NewBindingService(svc, bus)

	app := application.New(application.Options{
		Name:        "VeilBox",
		Description: "Secure tunnel client with profile subscriptions",
		Services: []application.Service{
			application.NewService(binding),
		},
		Assets: application.AssetOptions{
			Handler: application.AssetFileServerFS(assets),
		},
	})

	mainWindow := app.Window.NewWithOptions(application.WebviewWindowOptions{
		Title:            "VeilBox",
		Width:            980,
		Height:           680,
		URL:              "/",
		BackgroundColour: application.NewRGB(24, 24, 27),
		Windows: application.WindowsWindow{
			Theme: application.SystemDefault,
		},
	})

	// Hide window instead of closing when the user clicks the X button.
	mainWindow.RegisterHook(events.Common.WindowClosing, func(e *application.WindowEvent) {
		mainWindow.Hide()
		e.Cancel()
	})

	bridgeEvents(app, bus, binding.notifMgr)
	setupTray(app, mainWindow, svc, bus)

	svc.Start()
	defer func() {
		if err := svc.Disconnect(); err != nil {
			core.Log.Warnf("UI", "Disconnect on exit: %v", err)
		}
		svc.Stop()
	}()

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}

func configPath() string {
	if v := os.Getenv("VEILBOX_CONFIG"); v != "" {
		return v
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "veilbox.yaml"
	}
	return filepath.Join(dir, "VeilBox", "veilbox.yaml")
}
