package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lignum/dpp/pkg/core"
)

var resolveProductID bool

var resolveCmd = &cobra.Command{
	Use:   "resolve [digital-link | product-id]",
	Short: "Resolve a GS1 Digital Link or product identifier to a passport",
	Example: `  dpp resolve /01/04006381333931/21/SN-1
  dpp resolve --product-id SN-1`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		rt := openRuntime(ctx, nil)

		var (
			doc core.Document
			err error
		)
		if resolveProductID {
			doc, err = rt.Resolver.ResolveByProductID(ctx, args[0])
		} else {
			doc, err = rt.Resolver.Resolve(ctx, strings.TrimPrefix(args[0], "https://id.gs1.org"))
		}
		if err != nil {
			fatal("Error resolving", err)
		}
		printDocument(doc)
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveProductID, "product-id", false, "Treat the argument as a product identifier value")
	rootCmd.AddCommand(resolveCmd)
}
