package main

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/ipcd/client"
	"pkt.systems/ipcd/exercise"
)

var errDriverFailed = errors.New("one or more concurrent clients reported errors")

func newIsActiveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "is-active",
		Short: "Exit zero when a server is listening on the endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return probeServer(endpointPath())
		},
	}
}

func newSendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "send [command]",
		Short: "Send a single command to the daemon and print its reply",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			command := "(no command)"
			if len(args) == 1 {
				command = args[0]
			}
			path := endpointPath()
			if err := probeServer(path); err != nil {
				return err
			}
			reply, err := client.Send(cmd.Context(), path,
				client.ConnectOptions{WaitIfBusy: true}, []byte(command))
			if err != nil {
				return fmt.Errorf("failed to send '%s' to '%s': %w", command, path, err)
			}
			if len(reply) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", reply)
			}
			return nil
		},
	}
}

func newSendBytesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sendbytes",
		Short: "Send a run of identical bytes and print the daemon's receipt",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			path := endpointPath()
			if err := probeServer(path); err != nil {
				return err
			}
			bytecount, err := parseCount(viper.GetString(sendBytecountKey), 1)
			if err != nil {
				return err
			}
			stamp := byte(exercise.DefaultSendByte)
			if value := viper.GetString(sendByteKey); value != "" {
				stamp = value[0]
			}
			return exercise.DoSendBytes(cmd.Context(), cmd.OutOrStdout(), path,
				bytecount, stamp, client.ConnectOptions{WaitIfBusy: true})
		},
	}
	flags := cmd.Flags()
	flags.String("bytecount", fmt.Sprintf("%d", exercise.DefaultSendBytecount), "number of bytes to send (accepts sizes like 1MB)")
	flags.String("byte", string(exercise.DefaultSendByte), "byte value to repeat")
	mustBindFlag(sendBytecountKey, "IPCD_BYTECOUNT", flags.Lookup("bytecount"))
	mustBindFlag(sendByteKey, "IPCD_BYTE", flags.Lookup("byte"))
	return cmd
}

func newMultipleCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "multiple",
		Short: "Run concurrent sendbytes clients against the daemon and summarize the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			path := endpointPath()
			if err := probeServer(path); err != nil {
				return err
			}
			bytecount, err := parseCount(viper.GetString(multiBytecountKey), 1)
			if err != nil {
				return err
			}
			code := exercise.Multiple(cmd.Context(), cmd.OutOrStdout(),
				cliLogger(baseLogger, "multiple"), path,
				viper.GetInt(multiThreadsKey), bytecount,
				viper.GetInt(multiBatchsizeKey))
			if code != 0 {
				return errDriverFailed
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.Int("threads", exercise.DefaultDriverThreads, "number of concurrent client goroutines")
	flags.String("bytecount", fmt.Sprintf("%d", exercise.DefaultDriverBytecount), "base number of bytes per request (accepts sizes like 1MB)")
	flags.Int("batchsize", exercise.DefaultDriverBatchsize, "requests per client goroutine")
	mustBindFlag(multiThreadsKey, "IPCD_THREADS", flags.Lookup("threads"))
	mustBindFlag(multiBytecountKey, "IPCD_BYTECOUNT", flags.Lookup("bytecount"))
	mustBindFlag(multiBatchsizeKey, "IPCD_BATCHSIZE", flags.Lookup("batchsize"))
	return cmd
}

// newSupportsCommand keeps the historical probe spelling alive for scripts
// that gate on transport availability before driving the daemon.
func newSupportsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "supports-simple-ipc",
		Aliases: []string{"SUPPORTS_SIMPLE_IPC"},
		Hidden:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			if runtime.GOOS == "windows" || runtime.GOOS == "plan9" {
				return errors.New("simple IPC not available on this platform")
			}
			return nil
		},
	}
}
