package cmd

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mosaicdev/mosaic/internal/agent"
	"github.com/mosaicdev/mosaic/internal/gitops"
	"github.com/mosaicdev/mosaic/internal/logger"
	"github.com/mosaicdev/mosaic/internal/notification"
	"github.com/mosaicdev/mosaic/internal/sink"
	"github.com/mosaicdev/mosaic/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator daemon",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "127.0.0.1:4350", "Address for the shell websocket and /metrics")
	serveCmd.Flags().String("runtime", "", "Agent runtime executable (default: opencode)")
	serveCmd.Flags().String("runtime-args", "", "Agent runtime arguments, space separated")
	serveCmd.Flags().String("state", "", "Path to the state file (default: ~/.mosaic/state.json)")
	serveCmd.Flags().String("log", logger.DefaultLogPath, "Path to the log file")

	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("runtime", serveCmd.Flags().Lookup("runtime"))
	viper.BindPFlag("runtime_args", serveCmd.Flags().Lookup("runtime-args"))
	viper.BindPFlag("state", serveCmd.Flags().Lookup("state"))
	viper.BindPFlag("log", serveCmd.Flags().Lookup("log"))
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := logger.Init(viper.GetString("log")); err != nil {
		return err
	}
	defer logger.Close()

	statePath := viper.GetString("state")
	if statePath == "" {
		var err error
		statePath, err = store.DefaultPath()
		if err != nil {
			return fmt.Errorf("cannot determine state path: %w", err)
		}
	}
	st, err := store.Load(statePath)
	if err != nil {
		return fmt.Errorf("error loading state: %w", err)
	}

	hub := sink.NewHub()

	cfg := agent.Config{Command: viper.GetString("runtime")}
	if raw := viper.GetString("runtime_args"); raw != "" {
		cfg.Args = strings.Fields(raw)
	}
	orch := agent.New(cfg, agent.Deps{
		Store:    st,
		Git:      gitops.New(),
		Notifier: notification.New(),
		Focus:    hub,
		Sink:     hub,
	})
	defer orch.Shutdown()

	listenAddr := viper.GetString("listen")
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("cannot listen on %s: %w", listenAddr, err)
	}
	srv := &http.Server{Handler: hub.Handler()}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("Serve: http server failed: %v", err)
		}
	}()
	logger.Info("Serve: listening on %s", ln.Addr())
	fmt.Printf("mosaic daemon listening on http://%s\n", ln.Addr())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Serve: shutting down")
	srv.Close()
	return nil
}
