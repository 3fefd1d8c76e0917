package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/qwenrun/qwenrun/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cobra.CheckErr(cmd.NewCLI().ExecuteContext(ctx))
}
