package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/crowdstake/crowdstake/internal/config"
	"github.com/crowdstake/crowdstake/internal/ledger"
	"github.com/crowdstake/crowdstake/internal/logging"
	"github.com/crowdstake/crowdstake/internal/metrics"
	"github.com/crowdstake/crowdstake/internal/util"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the long-running monitor command.
func NewServeCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch pool events and export metrics",
		Long: `Run in the foreground, logging every stake, unstake and claim observed on
the staking program and serving Prometheus metrics at /metrics when
metrics.enabled is set or --metrics-addr is given. Changing log.level in
the config file takes effect without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.Metrics.Enabled = true
				cfg.Metrics.ListenAddr = metricsAddr
			}

			m, err := newMonitor(cmd.Context(), cfg, configPath())
			if err != nil {
				return err
			}
			if addr := m.metricsAddr(); addr != "" {
				Info("Metrics at http://" + addr + "/metrics")
			}
			return m.run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve metrics on this address (overrides metrics.listen_addr)")
	return cmd
}

// monitor follows pool events and serves metrics until its context ends.
type monitor struct {
	cfgPath   string
	collector *metrics.Collector
	sess      *session

	httpServer *http.Server
	listener   net.Listener
}

func newMonitor(ctx context.Context, cfg *config.Config, cfgPath string) (*monitor, error) {
	collector := metrics.NewCollector()
	sess, err := openSession(ctx, cfg, nil, collector)
	if err != nil {
		return nil, err
	}
	m := &monitor{cfgPath: cfgPath, collector: collector, sess: sess}

	if cfg.Metrics.Enabled {
		ln, err := net.Listen("tcp", cfg.Metrics.ListenAddr)
		if err != nil {
			sess.Close()
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Metrics.ListenAddr, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		m.listener = ln
		m.httpServer = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}
	return m, nil
}

// metricsAddr returns the bound metrics address, or "" when disabled.
func (m *monitor) metricsAddr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// run blocks until ctx is cancelled or the event source ends.
func (m *monitor) run(ctx context.Context) error {
	defer m.sess.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if m.httpServer != nil {
		util.SafeGoWithName("metrics-server", func() {
			logging.Info("metrics server starting", "addr", m.metricsAddr(), logging.Component("serve"))
			if err := m.httpServer.Serve(m.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server error", logging.Err(err), logging.Component("serve"))
			}
		})
	}

	watchDone := make(chan struct{})
	util.SafeGoWithName("config-watch", func() {
		defer close(watchDone)
		if err := config.Watch(ctx, m.cfgPath, m.reload); err != nil {
			logging.Warn("config hot reload disabled", logging.Err(err), logging.Component("serve"))
		}
	})

	err := m.sess.service.WatchEvents(ctx, m.sess.events, logPoolEvent)
	cancel()

	if m.httpServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelShutdown()
		if serr := m.httpServer.Shutdown(shutdownCtx); serr != nil {
			logging.Warn("metrics server shutdown", logging.Err(serr), logging.Component("serve"))
		}
	}
	<-watchDone
	return err
}

// reload applies the settings that can change without a restart.
func (m *monitor) reload(cfg *config.Config) {
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		logging.Warn("ignoring log level", logging.Err(err), logging.Component("serve"))
		return
	}
	logging.Info("config reloaded", "log_level", cfg.Log.Level, logging.Component("serve"))
}

func logPoolEvent(ev *ledger.PoolEvent) {
	logging.Info("pool event",
		"kind", ev.Kind,
		logging.Pool(ev.Pool),
		logging.Staker(ev.Staker),
		logging.Amount("amount", ev.Amount),
		"block", ev.Block,
		logging.TxHash(ev.TxHash),
		logging.Component("serve"))
}
