package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "tidectl",
		Short:         "Control a running tide-ctl engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var cli client
	root.PersistentFlags().StringVar(&cli.server, "server", "http://localhost:9300", "engine base URL")
	root.PersistentFlags().StringVar(&cli.token, "token", "", "bearer token for the control surface")

	root.AddCommand(
		newAppCommand(&cli),
		newRolloutCommand(&cli),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tidectl: %v\n", err)
		os.Exit(1)
	}
}
