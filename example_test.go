package dpp_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/lignum/dpp"
	"github.com/lignum/dpp/pkg/core"
)

// Example_open loads a directory, resolves a Digital Link and records a change.
func Example_open() {
	dir, err := os.MkdirTemp("", "dpp-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	passport := `{"id":"urn:dpp:battery-1","dpp:productIdentifiers":[{"dpp:scheme":"gtin","dpp:value":"04006381333931"}]}`
	if err := os.WriteFile(filepath.Join(dir, "battery.jsonld"), []byte(passport), 0644); err != nil {
		log.Fatal(err)
	}

	cfg, err := dpp.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	cfg.Dir = dir

	ctx := core.WithActor(context.Background(), "Gopher")
	rt, err := dpp.Open(ctx, cfg, nil)
	if err != nil {
		log.Fatal(err)
	}

	doc, err := rt.Resolver.Resolve(ctx, "/id/01/4006381333931")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("resolved:", doc.ID())

	doc, err = rt.Store.Patch(ctx, doc.ID(), []byte(`{"dpp:status":"inactive"}`))
	if err != nil {
		log.Fatal(err)
	}
	last := doc.ChangeLog()[len(doc.ChangeLog())-1]
	fmt.Println("status:", doc.Status())
	fmt.Println("change:", last.ChangeType, last.ChangedProperties, last.Actor)

	// Output:
	// resolved: urn:dpp:battery-1
	// status: inactive
	// change: update [dpp:status] Gopher
}
