package main

import (
	"log"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/terrama2/services/pkg/protocol"
)

var startCmd = &cobra.Command{
	Use:   "start [process-id...]",
	Short: "Run processes now",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		request := &protocol.StartProcessRequest{}

		timestamp, _ := cmd.Flags().GetString("timestamp")
		if timestamp != "" {
			ts, err := time.Parse(time.RFC3339, timestamp)
			if err != nil {
				log.Fatalf("Invalid timestamp: %v", err)
			}
			request.Timestamp = &ts
		}

		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				log.Fatalf("Invalid process id: %s", arg)
			}
			request.ProcessId = id
			call(protocol.StartProcess, request, nil)
			printOk()
		}
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the service",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		call(protocol.StopService, nil, nil)
		printOk()
	},
}

var workersCmd = &cobra.Command{
	Use:   "workers [count]",
	Short: "Change the number of worker routines, 0 for one per CPU",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		count, err := strconv.Atoi(args[0])
		if err != nil {
			log.Fatalf("Invalid worker count: %s", args[0])
		}

		call(protocol.UpdateWorkerCount, &protocol.WorkerCountRequest{Workers: count}, nil)
		printOk()
	},
}

var logTargetCmd = &cobra.Command{
	Use:   "log-target [uri]",
	Short: "Move the audit log to another store",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		call(protocol.UpdateLogTarget, &protocol.LogTargetRequest{Uri: args[0]}, nil)
		printOk()
	},
}

func init() {
	startCmd.Flags().StringP("timestamp", "t", "", "Reference time of the run (RFC 3339)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(logTargetCmd)
}
