// Command worker runs the worker-side runtime described in the system
// specification: it registers with a master, waits to be initialized with
// its id and peer set, then serves table/shard/kernel RPCs until told to
// shut down.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/tablerun/internal/logger"
	"github.com/dreamware/tablerun/internal/metrics"
	"github.com/dreamware/tablerun/internal/rpc"
	"github.com/dreamware/tablerun/internal/wire"
	"github.com/dreamware/tablerun/internal/worker"
)

func main() {
	var (
		masterAddr string
		port       int
		workerID   int
	)

	root := &cobra.Command{
		Use:   "worker",
		Short: "run a table-engine worker process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), masterAddr, port, workerID)
		},
	}

	root.Flags().StringVar(&masterAddr, "master", getenv("TABLERUN_MASTER_ADDR", ""), "master host:port (env TABLERUN_MASTER_ADDR)")
	root.Flags().IntVar(&port, "port", getenvInt("TABLERUN_PORT", -1), "listen port, -1 to pick a free one (env TABLERUN_PORT)")
	root.Flags().IntVar(&workerID, "id", getenvInt("TABLERUN_WORKER_ID", -1), "worker id hint for logging before master assigns one (env TABLERUN_WORKER_ID)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, masterAddr string, port, workerID int) error {
	log := logger.Named("cmd.worker")
	metrics.Register()

	if masterAddr == "" {
		return fmt.Errorf("--master (or TABLERUN_MASTER_ADDR) is required")
	}

	ln, err := listen(port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	addr := ln.Addr().(*net.TCPAddr)

	w := worker.New(workerID)
	srv := rpc.NewServer("", w)

	go func() {
		log.Infow("listening", "port", addr.Port)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("serve exited", "error", err)
		}
	}()

	if err := registerWithMaster(ctx, masterAddr, addr.Port, w); err != nil {
		return fmt.Errorf("register with master: %w", err)
	}

	w.WaitForShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http shutdown error", "error", err)
	}
	log.Infow("worker stopped")
	return nil
}

func listen(port int) (net.Listener, error) {
	if port < 0 {
		port = 0
	}
	return net.Listen("tcp", ":"+strconv.Itoa(port))
}

// registerWithMaster posts a RegisterReq to the master and retries on
// failure, then installs an OS signal handler so a local Ctrl-C also drives
// the worker through the same Shutdown path a master-issued Shutdown RPC
// would.
func registerWithMaster(ctx context.Context, masterAddr string, port int, w *worker.Worker) error {
	log := logger.Named("cmd.worker")
	req := wire.RegisterReq{Addr: wire.Addr{Host: "127.0.0.1", Port: port}}

	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = wire.PostJSON(ctx, "http://"+masterAddr+"/register", req, nil)
		if lastErr == nil {
			log.Infow("registered with master", "master", masterAddr)
			break
		}
		log.Infow("register retry", "attempt", i+1, "error", lastErr)
		time.Sleep(400 * time.Millisecond)
	}
	if lastErr != nil {
		return lastErr
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		log.Infow("signal received, shutting down")
		w.Shutdown()
	}()
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
