package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/KarunKarguz/edge-infer-gateway/internal/backend"
	"github.com/KarunKarguz/edge-infer-gateway/internal/config"
	"github.com/KarunKarguz/edge-infer-gateway/internal/gateway"
	"github.com/KarunKarguz/edge-infer-gateway/internal/manager"
	"github.com/KarunKarguz/edge-infer-gateway/internal/obs"
)

// version is stamped at build time via -ldflags; left as a plain
// default for unstamped builds.
var version = "dev"

// exitCodeErr lets serve report exit codes 1 (bad config) and 2
// (bind/listen failure) through cobra's plain RunE error return,
// which main then unwraps; any other error from cobra itself (bad
// flags) falls through to the default exit code 1.
type exitCodeErr struct {
	code int
	msg  string
}

func (e *exitCodeErr) Error() string { return e.msg }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		configPath string
		port       int
		httpPort   int
		showVer    bool
	)

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "edge-infer-gateway: a TCP inference gateway for edge accelerators",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVer {
				fmt.Fprintln(cmd.OutOrStdout(), version)
				return nil
			}
			return serve(cmd.Context(), configPath, port, httpPort)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "config/models.yaml", "path to the registry file")
	root.Flags().IntVarP(&port, "port", "p", 0, "TCP inference port (overrides registry, 0 = use registry)")
	root.Flags().IntVar(&httpPort, "http-port", 0, "auxiliary HTTP port (overrides registry, 0 = use registry)")
	root.Flags().BoolVar(&showVer, "version", false, "print version and exit")
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ce, ok := err.(*exitCodeErr); ok {
			return ce.code
		}
		return 1
	}
	return 0
}

func serve(ctx context.Context, configPath string, portOverride, httpPortOverride int) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	obs.SetLogger(log)

	reg, err := config.Load(configPath)
	if err != nil {
		return &exitCodeErr{code: 1, msg: fmt.Sprintf("load config: %v", err)}
	}
	reg.ApplyDefaults()
	reg.ApplyEnvOverrides()
	if portOverride != 0 {
		reg.Server.Port = portOverride
	}
	if httpPortOverride != 0 {
		reg.Server.HTTPPort = httpPortOverride
	}

	mgr := manager.New(reg.Models, func() (backend.Runtime, error) { return backend.NewMemoryRuntime(), nil })
	defer mgr.Close()

	var ready atomic.Bool
	httpSrv := &http.Server{
		Addr:    net.JoinHostPort("", strconv.Itoa(reg.Server.HTTPPort)),
		Handler: obs.NewMux(ready.Load),
	}

	writeTimeout := time.Duration(reg.Server.WriteTimeoutMS) * time.Millisecond
	gwSrv := &gateway.Server{
		Addr:       net.JoinHostPort("", strconv.Itoa(reg.Server.Port)),
		MaxClients: reg.Server.MaxClients,
		QueueDepth: reg.Server.QueueDepth,
		Timeouts: gateway.Timeouts{
			Read:  time.Duration(reg.Server.ReadTimeoutMS) * time.Millisecond,
			Write: writeTimeout,
		},
		Manager: mgr,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := gwSrv.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("gateway listen: %w", err)
		}
	}()
	ready.Store(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return &exitCodeErr{code: 2, msg: err.Error()}
	case <-stop:
		log.Info().Msg("gateway: shutting down")
	case <-ctx.Done():
	}

	// Grace period matches write_timeout_ms: in-flight requests get up
	// to one full write timeout to flush their final response before
	// shutdown forces them closed.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_ = gwSrv.Shutdown(shutdownCtx)
	_ = httpSrv.Shutdown(shutdownCtx)
	return nil
}
