// Command redi-migrate generates and applies schema migrations for document
// databases.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/rediwo/redi-migrate/drivers/memory"
	_ "github.com/rediwo/redi-migrate/drivers/mongodb"
	_ "github.com/rediwo/redi-migrate/drivers/sqlstate"
	"github.com/rediwo/redi-migrate/types"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(types.ExitCode(err))
	}
}
