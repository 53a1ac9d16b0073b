package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lignum/dpp/internal/platform"
	"github.com/lignum/dpp/pkg/core"
)

var (
	patchFile       string
	patchCollection string
	patchActor      string
)

var patchCmd = &cobra.Command{
	Use:   "patch [id] [merge-patch-json]",
	Short: "Apply a JSON Merge Patch to a passport and write it back",
	Long: `Apply an RFC 7396 merge patch to a passport. The patch is read from the
second argument, from --file, or from stdin. The change is recorded in the
passport's change log and written back to its file.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		var (
			patch []byte
			err   error
		)
		switch {
		case len(args) == 2:
			patch = []byte(args[1])
		case patchFile != "":
			patch, err = os.ReadFile(patchFile)
		default:
			patch, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			fatal("Error reading patch", err)
		}

		ctx := core.WithActor(context.Background(), patchActor)
		rt := openRuntime(ctx, func(cfg *platform.Config) { cfg.Persist = true })

		var doc core.Document
		if patchCollection != "" {
			doc, err = rt.Store.PatchCollection(ctx, args[0], patchCollection, patch)
		} else {
			doc, err = rt.Store.Patch(ctx, args[0], patch)
		}
		if err != nil {
			fatal("Error patching passport", err)
		}
		printDocument(doc)
	},
}

func init() {
	patchCmd.Flags().StringVarP(&patchFile, "file", "f", "", "Read the patch from a file")
	patchCmd.Flags().StringVar(&patchCollection, "collection", "", "Patch a data element collection instead of the whole passport")
	patchCmd.Flags().StringVar(&patchActor, "actor", currentUser(), "Actor recorded in the change log")
	rootCmd.AddCommand(patchCmd)
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return core.DefaultActor
}
