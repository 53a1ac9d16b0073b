package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lignum/dpp"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of dpp",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dpp version %s\n", strings.TrimSpace(dpp.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
