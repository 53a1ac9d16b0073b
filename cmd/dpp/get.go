package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lignum/dpp/pkg/core"
)

var getAt string

var getCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Print a passport",
	Long:  `Print a passport as JSON-LD. With --at, print the version that was current at that instant (RFC 3339).`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		rt := openRuntime(ctx, nil)

		var (
			doc core.Document
			err error
		)
		if getAt != "" {
			at, perr := time.Parse(time.RFC3339, getAt)
			if perr != nil {
				fatal("Invalid --at", perr)
			}
			doc, err = rt.Store.VersionAt(ctx, args[0], at)
		} else {
			doc, err = rt.Store.Get(ctx, args[0])
		}
		if err != nil {
			fatal("Error reading passport", err)
		}
		printDocument(doc)
	},
}

func printDocument(doc core.Document) {
	data, err := doc.MarshalIndented()
	if err != nil {
		fatal("Error encoding JSON", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
}

func init() {
	getCmd.Flags().StringVar(&getAt, "at", "", "Print the version current at this RFC 3339 instant")
	rootCmd.AddCommand(getCmd)
}
