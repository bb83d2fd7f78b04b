package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polarisvpn/polaris-linux/pkg/config"
	"github.com/polarisvpn/polaris-linux/pkg/daemon"
	"github.com/polarisvpn/polaris-linux/pkg/daemon/endpoints"
	"github.com/polarisvpn/polaris-linux/pkg/logging"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the Polaris VPN daemon",
	Long: `Run the Polaris VPN daemon.

The daemon keeps the session, server list and client certificate fresh,
drives the VPN connection, and serves the local control API that the other
polarisctl commands talk to.

Configuration is read from ` + config.DefaultConfigPath + `/` + config.ConfigFileName + `
(or POLARIS_CONFIG_PATH) and from POLARIS_* environment variables.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			os.Exit(1)
		}

		logging.Setup(cfg.LogLevel, os.Stdout)
		log := logging.ForCategory("main")

		d, err := daemon.New(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
			os.Exit(1)
		}

		srv := daemon.NewServer(d, cfg.ControlAddr, logging.ForCategory("http"))
		endpoints.RegisterAll(srv)

		ctx, stop := signal.NotifyContext(context.Background(),
			syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		go func() {
			log.Infof("Control API listening on %s", cfg.ControlAddr)
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("Control API server failed")
				stop()
			}
		}()

		err = d.Run(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			log.WithError(shutdownErr).Warn("Control API shutdown failed")
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "Daemon exited with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
