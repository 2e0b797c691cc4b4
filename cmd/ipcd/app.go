package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/ipcd"
	"pkt.systems/ipcd/internal/svcfields"
)

// viper keys for flag/env binding. Env names follow the IPCD_ prefix with
// dashes mapped to underscores.
const (
	pathKey     = "path"
	logLevelKey = "log-level"

	daemonThreadsKey = "daemon.threads"
	metricsListenKey = "daemon.metrics_listen"
	startThreadsKey  = "start.threads"
	startMaxWaitKey  = "start.max_wait"
	stopMaxWaitKey   = "stop.max_wait"

	sendBytecountKey  = "sendbytes.bytecount"
	sendByteKey       = "sendbytes.byte"
	multiThreadsKey   = "multiple.threads"
	multiBytecountKey = "multiple.bytecount"
	multiBatchsizeKey = "multiple.batchsize"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("IPCD_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "ipcd")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ipcd",
		Short:         "ipcd exercises a local IPC transport between short-lived clients and a daemon",
		SilenceErrors: true,
		Example: `
  # Run the daemon in the foreground on ./ipc-test
  ipcd run-daemon --threads=5

  # Spawn a detached daemon, wait up to a minute for it to come online
  ipcd start-daemon --threads=5 --max-wait=60

  # Exercise it
  ipcd send ping
  ipcd sendbytes --bytecount=1MB --byte=Q
  ipcd multiple --threads=26 --bytecount=1 --batchsize=10

  # Tear it down
  ipcd stop-daemon --max-wait=60`,
	}

	persistent := cmd.PersistentFlags()
	persistent.String("path", ipcd.DefaultPath, "endpoint path the daemon binds, relative to the working directory")
	persistent.String("log-level", "", "log level override (trace|debug|info|warn|error)")

	viper.SetEnvPrefix("IPCD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	mustBindFlag(pathKey, "IPCD_PATH", persistent.Lookup("path"))
	mustBindFlag(logLevelKey, "IPCD_LOG_LEVEL", persistent.Lookup("log-level"))

	cmd.AddCommand(newIsActiveCommand())
	cmd.AddCommand(newRunDaemonCommand(baseLogger))
	cmd.AddCommand(newStartDaemonCommand(baseLogger))
	cmd.AddCommand(newStopDaemonCommand(baseLogger))
	cmd.AddCommand(newSendCommand())
	cmd.AddCommand(newSendBytesCommand())
	cmd.AddCommand(newMultipleCommand(baseLogger))
	cmd.AddCommand(newSupportsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func mustBindFlag(key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

// cliLogger applies the --log-level override and tags the subsystem.
func cliLogger(base pslog.Logger, subsystem string) pslog.Logger {
	if lvl := strings.TrimSpace(viper.GetString(logLevelKey)); lvl != "" {
		if level, ok := pslog.ParseLevel(lvl); ok {
			base = base.LogLevel(level)
		}
	}
	return svcfields.WithSubsystem(base, subsystem)
}

func endpointPath() string {
	if path := strings.TrimSpace(viper.GetString(pathKey)); path != "" {
		return path
	}
	return ipcd.DefaultPath
}

// probeServer maps the endpoint's active state to the harness diagnostics.
// nil means a server is listening.
func probeServer(path string) error {
	switch ipcd.GetActiveState(path) {
	case ipcd.StateListening:
		return nil
	case ipcd.StateNotListening:
		return fmt.Errorf("no server listening at '%s'", path)
	case ipcd.StatePathNotFound:
		return fmt.Errorf("path not found '%s'", path)
	case ipcd.StateInvalidPath:
		return fmt.Errorf("invalid pipe/socket name '%s'", path)
	default:
		return fmt.Errorf("other error for '%s'", path)
	}
}

// parseCount accepts plain integers and humanized sizes ("1MB") and
// silently coerces values below min.
func parseCount(value string, min int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "-") {
		return min, nil
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", value, err)
	}
	if n > uint64(int(^uint(0)>>1)) {
		return 0, fmt.Errorf("count %q out of range", value)
	}
	if int(n) < min {
		return min, nil
	}
	return int(n), nil
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
