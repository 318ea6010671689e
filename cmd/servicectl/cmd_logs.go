package main

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/terrama2/services/pkg/protocol"
)

var logsCmd = &cobra.Command{
	Use:   "logs [process-id...]",
	Short: "List the runs of processes",
	Run: func(cmd *cobra.Command, args []string) {
		request := &protocol.LogRequest{}

		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				log.Fatalf("Invalid process id: %s", arg)
			}
			request.ProcessIds = append(request.ProcessIds, id)
		}

		request.Limit, _ = cmd.Flags().GetInt("limit")

		if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
			begin := time.Now().Add(-since)
			request.Begin = &begin
		}

		response := &protocol.LogResponse{}
		call(protocol.Log, request, response)

		if configData.Json {
			printJson(response)
			return
		}

		messages, _ := cmd.Flags().GetBool("messages")
		for _, run := range response.Runs {
			data := "-"
			if run.DataTimestamp != nil {
				data = formatTime(*run.DataTimestamp)
			}

			fmt.Printf("%6d  process %-6d %-10s start %s  data %s\n",
				run.RegisterId,
				run.ProcessId,
				run.Status,
				formatTime(run.StartTimestamp),
				data,
			)

			if messages {
				for _, msg := range run.Messages {
					fmt.Printf("        %s [%7s] %s\n", formatTime(msg.Timestamp), msg.Severity, msg.Description)
				}
			}
		}
	},
}

func init() {
	logsCmd.Flags().IntP("limit", "n", 20, "Most recent runs to show, 0 for all")
	logsCmd.Flags().Duration("since", 0, "Only runs started within this duration")
	logsCmd.Flags().BoolP("messages", "m", false, "Show run messages")
	rootCmd.AddCommand(logsCmd)
}
