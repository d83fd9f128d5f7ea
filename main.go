// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/articlemail/cmd"
)

// main lets `go run .` work from the repository root. The installed binary
// is built from cmd/articlemail.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
