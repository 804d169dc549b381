package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"

	"slotwatch/internal/bot"
	"slotwatch/internal/core"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	// Optional .env for local runs; config values stay authoritative.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := core.NewApp(ctx, cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	app.SetCommands(bot.Commands(bot.Deps{
		Registry:   app.Registry(),
		Watcher:    app.Watcher(),
		Dispatcher: app.Dispatcher(),
		Log:        app.Logger(),
	}))

	if err := app.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-app.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	reason := core.StopReasonSignal
	if app.Err() != nil {
		reason = core.StopReasonFatal
	}
	_ = app.Stop(stopCtx, reason)
	if app.Err() != nil {
		fmt.Println("fatal:", app.Err())
		os.Exit(1)
	}
}
