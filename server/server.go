package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Clouded-Sabre/tuntcp/config"
	"github.com/Clouded-Sabre/tuntcp/lib"
	"github.com/Clouded-Sabre/tuntcp/netcfg"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "tuntcp:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	appConfig, err := config.ReadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := appConfig.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	dispatcherConfig, connConfig, err := appConfig.Lib()
	if err != nil {
		return err
	}
	dispatcherConfig.Logger = logger
	connConfig.Logger = logger

	tun, err := lib.OpenTun(appConfig.Device.Name)
	if err != nil {
		return err
	}
	defer tun.Close()
	logger.Info("TUN device opened", zap.String("dev", tun.Name()))

	nc, err := netcfg.New(logger)
	if err != nil {
		return err
	}
	if err := netcfg.Setup(nc, tun.Name(), appConfig.Device.Address, appConfig.Device.MTU); err != nil {
		return err
	}
	defer func() {
		if err := nc.SetDown(tun.Name()); err != nil {
			logger.Warn("failed to bring interface down", zap.Error(err))
		}
	}()

	var nic io.ReadWriter = tun
	if appConfig.Capture != "" {
		f, err := os.Create(appConfig.Capture)
		if err != nil {
			return err
		}
		defer f.Close()
		if nic, err = lib.NewCaptureInterface(tun, f); err != nil {
			return err
		}
		logger.Info("capturing segments", zap.String("file", appConfig.Capture))
	}

	dispatcher, err := lib.NewDispatcher(nic, dispatcherConfig)
	if err != nil {
		return err
	}

	// Listen for interrupt signal (Ctrl+C)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("dispatcher started", zap.String("address", appConfig.Device.Address))
	if err := dispatcher.Run(ctx); err != nil {
		logger.Error("dispatcher stopped", zap.Error(err))
		return err
	}
	logger.Info("shutting down")
	return nil
}
