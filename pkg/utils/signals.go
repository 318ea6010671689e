package utils

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

// Dump the stacks of all goroutines to stdout on SIGUSR1.
func InstallStackDumper() {
	ch := make(chan os.Signal, 10)
	signal.Notify(ch, syscall.SIGUSR1)

	go func() {
		for range ch {
			buf := make([]byte, 1<<16)
			len := runtime.Stack(buf, true)
			fmt.Printf("%s\n", buf[:len])
		}
	}()
}
