package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Consultation room relay for Doctor Direct",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to config file (default from DDRELAY_CONFIG_DEFAULT_PATH or ./config.yaml)")

	root.AddCommand(
		newServeCommand(),
		newTokenCommand(),
		newChatCommand(),
		newSmokeCommand(),
	)
	return root
}
