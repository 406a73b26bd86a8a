// Command muproxy runs the MUD/MUSH session-survival proxy: a TCP
// listener in front of a game server that keeps client sockets open
// across backend outages and replays credentials once the backend comes
// back.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nabbar/muproxy/internal/config"
	"github.com/nabbar/muproxy/internal/engine"
	"github.com/nabbar/muproxy/internal/metrics"
	"github.com/nabbar/muproxy/internal/xerr"
	"github.com/nabbar/muproxy/internal/xlog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var version = "dev"

const adminShutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "muproxy",
		Short: "TCP proxy that keeps MUD/MUSH client sessions alive across backend outages",
	}
	root.AddCommand(newServeCommand(), newVersionCommand(), newStatusCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newServeCommand() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(context.Background(), cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to a YAML/JSON/TOML config file")
	return cmd
}

// newStatusCommand dials a running proxy's client port and sends the
// in-band introspection command, printing whatever comes back. It is the
// operator-facing counterpart to typing "#?" from inside a MUD client.
func newStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running proxy's session table over its client port",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer func() { _ = conn.Close() }()

			if _, err := conn.Write([]byte("#?\n")); err != nil {
				return fmt.Errorf("write query: %w", err)
			}
			buf := make([]byte, 64*1024)
			n, err := conn.Read(buf)
			if err != nil && n == 0 {
				return fmt.Errorf("read response: %w", err)
			}
			_, _ = cmd.OutOrStdout().Write(buf[:n])
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:4000", "proxy client address to query")
	return cmd
}

func runServe(ctx context.Context, cfgPath string) error {
	cfg, v, err := config.Load(cfgPath)
	if err != nil {
		return xerr.New(xerr.ConfigInvalid, "loading configuration", err)
	}

	log := xlog.New(os.Stdout, cfg.LogLevel)
	runID, err := uuid.GenerateUUID()
	if err != nil {
		runID = "unknown"
	}
	log = log.WithFields(xlog.Fields{"run_id": runID, "version": version})
	log.Info("starting")

	live := config.NewLive(cfg)

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	eng := engine.New(live, log, met)
	if err := eng.Listen(); err != nil {
		return xerr.New(xerr.ListenFailed, fmt.Sprintf("binding client listener on :%d", cfg.LocalPort), err)
	}

	// applyReload swaps in a newly loaded config and, if the backend
	// address changed, forces a failover teardown so the heartbeat and
	// every session's backend socket get re-dialed against the new
	// address instead of waiting for the old one to eventually fail.
	applyReload := func(newCfg *config.Config, err error) {
		if err != nil {
			log.WithFields(xlog.Fields{"err": err.Error()}).Warn("config reload rejected")
			return
		}
		old := live.Get()
		live.Set(newCfg)
		log.Info("configuration reloaded")
		if old.MushAddress != newCfg.MushAddress {
			log.WithFields(xlog.Fields{"old": old.MushAddress, "new": newCfg.MushAddress}).Info("mush_address changed, forcing failover teardown")
			eng.TeardownBackends(time.Now())
		}
	}

	if cfgPath != "" {
		config.WatchReload(v, applyReload)
	}

	admin := engine.NewAdmin(cfg.AdminAddress, log, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	admin.Start()

	runCtx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				if cfgPath == "" {
					log.Warn("SIGHUP ignored: no config file was given at startup")
					continue
				}
				newCfg, _, err := config.Load(cfgPath)
				applyReload(newCfg, err)
			default:
				log.WithFields(xlog.Fields{"signal": sig.String()}).Info("shutting down")
				cancel()
				return
			}
		}
	}()

	eng.Run(runCtx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
	defer shutdownCancel()
	if err := admin.Stop(shutdownCtx); err != nil {
		log.WithFields(xlog.Fields{"err": err.Error()}).Warn("admin server shutdown error")
	}

	return nil
}
