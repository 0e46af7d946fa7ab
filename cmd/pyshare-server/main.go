// Command pyshare-server runs the coordinator that owns the shared buffer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"pyshare/internal/config"
	"pyshare/internal/coordinator"
	"pyshare/internal/discovery"
	"pyshare/internal/store"
)

func main() {
	_ = flag.Set("logtostderr", "true")
	cfg, err := config.ParseServer(flag.CommandLine, os.Args[1:])
	if err != nil {
		glog.Exitf("parse flags: %v", err)
	}
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		glog.Exitf("failed to serve: %v", err)
	}
}

func run(ctx context.Context, cfg config.Server) error {
	var st store.Store = store.NewMemory()
	if cfg.RedisAddr != "" {
		rs, err := store.DialRedis(ctx, cfg.RedisAddr, cfg.RedisKey)
		if err != nil {
			return err
		}
		defer rs.Close()
		glog.Infof("connected to redis at %s, key %s", cfg.RedisAddr, rs.Key())
		st = rs
	}

	hub := coordinator.NewHub(st, coordinator.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hubDone := make(chan error, 1)
	go func() { hubDone <- hub.Run(hubCtx) }()

	if cfg.MDNS {
		port := listener.Addr().(*net.TCPAddr).Port
		if err := discovery.Announce(hubCtx, port); err != nil {
			glog.Warningf("mdns announce failed: %v", err)
		}
	}

	srv := &http.Server{
		Handler:           coordinator.NewRouter(hub, cfg.StaticDir),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveDone := make(chan error, 1)
	go func() {
		glog.Infof("PyShare coordinator listening on %s", listener.Addr())
		serveDone <- srv.Serve(listener)
	}()

	select {
	case err := <-serveDone:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case err := <-hubDone:
		_ = srv.Close()
		return err
	case <-ctx.Done():
	}

	glog.Info("shutting down coordinator")
	stopHub()
	<-hubDone
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}
