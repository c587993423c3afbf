// shippy uploads build artifacts to a shipper server in resumable chunks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/fatih/color"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "2.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(env.NewRepository(), os.Stdin, os.Stdout)
	if err := app.run(ctx, os.Args[1:]); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, color.RedString("Error: %s", err))
		os.Exit(1)
	}
}
