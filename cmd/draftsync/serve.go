package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/draftsync/internal/config"
	"github.com/nainya/draftsync/internal/metrics"
	"github.com/nainya/draftsync/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the document store over gRPC and HTTP",
	Long: "Serve the configured local store (memory or sqlite) so that sessions on other\n" +
		"devices share records and watches through the gRPC service or the HTTP gateway.",
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.StoreBackend != config.BackendMemory && cfg.StoreBackend != config.BackendSQLite {
		return fmt.Errorf("serve needs a local store backend, got %q", cfg.StoreBackend)
	}

	m := metrics.NewMetrics()
	store, err := openStore(m)
	if err != nil {
		return err
	}
	defer store.Close()

	log.LogServerStart(cfg.GRPCPort, cfg.HTTPPort, cfg.DBPath)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	srv := server.NewServer(store, log)
	grpcServer := server.NewGRPCServer(srv, m, log.GrpcLogger("server"))
	gateway := server.NewGatewayServer(cfg.HTTPPort, server.NewGateway(srv, m, log), log)

	errs := make(chan error, 2)
	go func() {
		errs <- grpcServer.Serve(lis)
	}()
	go func() {
		errs <- gateway.Start()
	}()
	log.LogServerReady(cfg.GRPCPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
	case err = <-errs:
	}

	log.LogServerShutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := gateway.Shutdown(ctx); shutdownErr != nil {
		log.Warn("gateway shutdown failed").Err(shutdownErr).Send()
	}

	// open watch streams keep GracefulStop waiting until the deadline
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		grpcServer.Stop()
	}
	return err
}
