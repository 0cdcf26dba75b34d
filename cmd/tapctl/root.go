package main

import (
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tapctl",
		Short:         "Inspect and exercise the tapflow dialogue pipeline",
		Long:          "tapctl runs the text normalizer, crisis detector and directive codec on ad-hoc input, and can hold a full tapping session in the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newNormalizeCmd(),
		newDetectCmd(),
		newDirectiveCmd(),
		newChatCmd(),
	)
	return rootCmd
}

// inputText joins args, or reads stdin when there are none.
func inputText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}
