package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lignum/dpp/pkg/core"
)

var (
	listJSON     bool
	listOperator string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the passports in the directory",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		rt := openRuntime(context.Background(), nil)

		var docs []core.Document
		for doc := range rt.Store.All() {
			if listOperator != "" && doc.EconomicOperatorID() != listOperator {
				continue
			}
			docs = append(docs, doc)
		}

		if listJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(docs); err != nil {
				fatal("Error encoding JSON", err)
			}
			return
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tIDENTIFIERS")
		for _, doc := range docs {
			var ids []string
			for _, k := range doc.Keys() {
				ids = append(ids, k.String())
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", doc.ID(), doc.Status(), strings.Join(ids, ","))
		}
		_ = tw.Flush()
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output full documents as JSON")
	listCmd.Flags().StringVar(&listOperator, "operator", "", "Only list passports of this economic operator")
	rootCmd.AddCommand(listCmd)
}
