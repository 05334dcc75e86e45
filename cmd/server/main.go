package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"secure_drop/internal/bootstrap"
	"secure_drop/internal/config"
	"secure_drop/internal/service/server"
	"secure_drop/internal/utils/log"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	wipeOnExit := pflag.Bool("wipe-on-exit", false, "delete every stored message on shutdown")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.Development); err != nil {
		log.Fatal("init logger failed", zap.Error(err))
	}
	defer log.Sync()

	ctx := context.Background()
	rt, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}

	s := server.NewHttpServer(cfg.Server, cfg.Delivery.DefaultTTL, rt.Delivery, rt.Keys, rt.Registry)
	s.Run()

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	<-done

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	if *wipeOnExit {
		if _, err := rt.Delivery.Wipe(shutdownCtx); err != nil {
			log.Error("wipe on exit failed", zap.Error(err))
		}
	}
	if err := rt.Close(shutdownCtx); err != nil {
		log.Error("close runtime failed", zap.Error(err))
	}
}
