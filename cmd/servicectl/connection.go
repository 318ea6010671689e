package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/terrama2/services/pkg/protocol"
	"github.com/terrama2/services/pkg/utils"
)

const defaultControlPort = 30000

func NewServiceClient() *protocol.Client {
	host, err := utils.ParseTcpUrl(configData.ServiceUri, defaultControlPort)
	if err != nil {
		log.Fatal(err)
	}
	return protocol.NewClient(host)
}

func DefaultDeadlineContext() (context.Context, func()) {
	return context.WithDeadline(context.Background(), time.Now().Add(time.Second*30))
}

// Send a request and decode the reply into body. Exits on failure.
func call(signal protocol.Signal, request, body any) {
	ctx, cancel := DefaultDeadlineContext()
	defer cancel()

	if err := NewServiceClient().Call(ctx, signal, request, body); err != nil {
		log.Fatalf("%s: %v", signal, err)
	}
}

func printJson(doc any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		log.Fatal(err)
	}
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04:05")
}

func printOk() {
	if !configData.Json {
		fmt.Println("ok")
	}
}
