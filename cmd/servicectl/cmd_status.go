package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/terrama2/services/pkg/protocol"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show service status",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		status := &protocol.StatusResponse{}
		call(protocol.Status, nil, status)

		if configData.Json {
			printJson(status)
			return
		}

		fmt.Printf("Instance:   %d %s\n", status.InstanceId, status.InstanceName)
		fmt.Printf("Kind:       %s\n", status.Kind)
		fmt.Printf("Version:    %s\n", status.Version)
		fmt.Printf("Boot:       %s\n", status.BootId)
		fmt.Printf("Started:    %s\n", formatTime(status.StartTime))
		fmt.Printf("Log target: %s (online: %v)\n", status.LogTarget, status.LoggerOnline)
		if status.ShuttingDown {
			fmt.Println("Shutting down")
		}

		if svc := status.Service; svc != nil {
			fmt.Println()
			fmt.Printf("  State:     %s\n", svc.State)
			fmt.Printf("  Workers:   %d\n", svc.Workers)
			fmt.Printf("  Processes: %d\n", svc.Processes)
			fmt.Printf("  Queued:    %d\n", svc.QueuedTasks)
			fmt.Printf("  Running:   %d\n", svc.RunningTasks)
			fmt.Printf("  Completed: %d (%d failed)\n", svc.CompletedTasks, svc.FailedTasks)
			fmt.Printf("  Triggered: %d\n", svc.TriggeredTasks)
		}

		if len(status.Host) > 0 {
			keys := make([]string, 0, len(status.Host))
			for key := range status.Host {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			fmt.Println()
			fmt.Println("  Host")
			for _, key := range keys {
				fmt.Printf("    %s: %s\n", key, status.Host[key])
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
