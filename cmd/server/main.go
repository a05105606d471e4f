package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/david/bidwatch/internal/api"
	"github.com/david/bidwatch/internal/app"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Load(ctx, *configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	defer a.Close()

	srv := api.NewServer(a.Config.Documents, a.Config.Server, a.Ledger, a.Logger.Named("api"))
	port := strconv.Itoa(a.Config.Server.Port)

	go func() {
		a.Logger.Info("server starting", zap.String("port", port))
		if err := srv.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("shutdown", zap.Error(err))
	}
}
