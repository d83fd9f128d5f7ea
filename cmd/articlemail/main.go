// File: cmd/articlemail/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/xkilldash9x/articlemail/cmd"
	"github.com/xkilldash9x/articlemail/internal/observability"
)

const panicLogFile = "articlemail-panic.log"

// Replaced in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		if err := cmd.Execute(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				osExit(0)
			} else {
				osExit(1)
			}
		}
		return
	}

	if err := runShell(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error reading from stdin:", err)
		osExit(1)
	}
}

// runShell reads commands line by line until EOF, "exit" or ctx ends. Each
// line gets a fresh command tree.
func runShell(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for ctx.Err() == nil {
		fmt.Fprint(out, "articlemail > ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		runLine(ctx, out, strings.Fields(line))
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

func runLine(ctx context.Context, out io.Writer, args []string) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(out, "Error: command panicked: %v\n", r)
		}
	}()
	rootCmd := cmd.NewRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(out, "Error:", err)
	}
}

// handlePanic writes the panic and its stack to panicLogFile and exits non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	msg := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(msg), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", msg)
		osExit(2)
		return
	}
	fmt.Fprintf(os.Stderr, "articlemail crashed. Details logged to %s\n", panicLogFile)
	osExit(2)
}
