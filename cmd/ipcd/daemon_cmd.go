package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/ipcd"
	"pkt.systems/ipcd/exercise"
	"pkt.systems/ipcd/internal/lifecycle"
)

// appTokenValue is the fixed value the daemon stores behind its instance
// data pointer. The handler asserts it on every request to verify the
// pointer survived the round trip through the server plumbing.
const appTokenValue = 42

const shutdownGrace = 10 * time.Second

func newRunDaemonCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run-daemon",
		Short: "Run the daemon in the foreground until it receives a quit command or a signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			logger := cliLogger(baseLogger, "daemon")
			cfg := ipcd.Config{
				Path:          endpointPath(),
				NrThreads:     atLeastOneThread(viper.GetInt(daemonThreadsKey)),
				MetricsListen: viper.GetString(metricsListenKey),
			}
			token := new(int)
			*token = appTokenValue
			srv, err := ipcd.NewServer(cfg, exercise.NewHandler(token), token,
				ipcd.WithLogger(logger))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("shutdown incomplete", "error", err)
				}
			}()
			return srv.Start()
		},
	}
	flags := cmd.Flags()
	flags.Int("threads", ipcd.DefaultNrThreads, "number of worker goroutines serving connections")
	flags.String("metrics-listen", ipcd.DefaultMetricsListen, "optional host:port for the Prometheus /metrics endpoint")
	mustBindFlag(daemonThreadsKey, "IPCD_THREADS", flags.Lookup("threads"))
	mustBindFlag(metricsListenKey, "IPCD_METRICS_LISTEN", flags.Lookup("metrics-listen"))
	return cmd
}

func newStartDaemonCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start-daemon",
		Short: "Spawn a detached daemon process and wait for it to come online",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return lifecycle.Start(cmd.Context(), lifecycle.StartOptions{
				Path:      endpointPath(),
				NrThreads: viper.GetInt(startThreadsKey),
				MaxWait:   secondsWait(viper.GetInt(startMaxWaitKey)),
				Logger:    cliLogger(baseLogger, "start-daemon"),
			})
		},
	}
	flags := cmd.Flags()
	flags.Int("threads", ipcd.DefaultNrThreads, "number of worker goroutines for the spawned daemon")
	flags.Int("max-wait", int(ipcd.DefaultStartWait/time.Second), "seconds to wait for the daemon to come online")
	mustBindFlag(startThreadsKey, "IPCD_THREADS", flags.Lookup("threads"))
	mustBindFlag(startMaxWaitKey, "IPCD_MAX_WAIT", flags.Lookup("max-wait"))
	return cmd
}

func newStopDaemonCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop-daemon",
		Short: "Send quit to the daemon and wait for the endpoint to go quiet",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			path := endpointPath()
			if err := probeServer(path); err != nil {
				return err
			}
			return lifecycle.Stop(cmd.Context(), lifecycle.StopOptions{
				Path:    path,
				MaxWait: secondsWait(viper.GetInt(stopMaxWaitKey)),
				Logger:  cliLogger(baseLogger, "stop-daemon"),
			})
		},
	}
	flags := cmd.Flags()
	flags.Int("max-wait", int(ipcd.DefaultStopWait/time.Second), "seconds to wait for the daemon to shut down")
	mustBindFlag(stopMaxWaitKey, "IPCD_MAX_WAIT", flags.Lookup("max-wait"))
	return cmd
}

// atLeastOneThread applies the worker-count floor, so an explicit
// --threads=0 means one worker rather than falling through to the default.
func atLeastOneThread(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func secondsWait(seconds int) time.Duration {
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds) * time.Second
}
