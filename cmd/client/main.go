package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"secure_drop/internal/config"
	"secure_drop/internal/service/app"
	"secure_drop/internal/utils/log"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	host := pflag.String("host", "", "API address, defaults to the configured server addr")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [identity]\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}
	// the terminal belongs to the UI, keep the logger quiet
	if err := log.Init("error", false); err != nil {
		log.Fatal("init logger failed", zap.Error(err))
	}

	addr := *host
	if addr == "" {
		addr = cfg.Server.Addr
	}
	identity := pflag.Arg(0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := app.NewApp(app.NewClient(addr), identity)

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		c.Stop()
	}()

	if err := c.Run(ctx); err != nil {
		log.Fatal("client stopped", zap.Error(err))
	}
}
