package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lignum/dpp/pkg/core"
	"github.com/lignum/dpp/pkg/registry"
	"github.com/lignum/dpp/pkg/store"
)

func passport(id string, ids ...string) core.Document {
	pids := []any{}
	for i := 0; i+1 < len(ids); i += 2 {
		pids = append(pids, map[string]any{"dpp:scheme": ids[i], "dpp:value": ids[i+1]})
	}
	return core.Document{
		"id":                     id,
		"type":                   "dpp:DigitalProductPassport",
		"dpp:productIdentifiers": pids,
	}
}

func setup(t *testing.T, opts ...registry.Option) (*store.Store, *registry.Registry) {
	t.Helper()
	s := store.New()
	reg := registry.New(s, opts...)
	s.Subscribe(reg.Observe)
	return s, reg
}

// failingSink fails every write once armed.
type failingSink struct {
	mu  sync.Mutex
	err error
}

func (f *failingSink) arm(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *failingSink) Persist(ctx context.Context, doc core.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *failingSink) Remove(ctx context.Context, final core.Document) error {
	return f.Persist(ctx, final)
}

func gtin(value string) []core.ProductIdentifier {
	return []core.ProductIdentifier{{Scheme: "gtin", Value: value}}
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("Maps Identifiers And Stamps Passport", func(t *testing.T) {
		s, reg := setup(t)
		_, err := s.Create(ctx, passport("urn:a", "gtin", "04006381333931"))
		require.NoError(t, err)

		entry, err := reg.Register(ctx, registry.Request{
			DPPID:              "urn:a",
			ProductIdentifiers: gtin("4006381333931"),
			EconomicOperatorID: "did:web:acme.example",
		})
		require.NoError(t, err)
		assert.Contains(t, entry.RegistryID, "urn:eu-dpp-reg:")
		assert.Equal(t, "/registry/"+entry.RegistryID[len("urn:eu-dpp-reg:"):], entry.RegistryURL)

		id, err := reg.Lookup("gtin", "04006381333931")
		require.NoError(t, err)
		assert.Equal(t, "urn:a", id)

		doc, err := s.Get(ctx, "urn:a")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"id": entry.RegistryID, "schema:url": entry.RegistryURL}, doc[core.KeyRegistry])
		require.Len(t, doc.ChangeLog(), 2)
		assert.Equal(t, []string{core.KeyRegistry}, doc.ChangeLog()[1].ChangedProperties)

		got, err := reg.Entry(entry.RegistryURL[len("/registry/"):])
		require.NoError(t, err)
		assert.Equal(t, entry, got)
	})

	t.Run("Is Idempotent", func(t *testing.T) {
		s, reg := setup(t)
		_, err := s.Create(ctx, passport("urn:a", "gtin", "04006381333931"))
		require.NoError(t, err)

		req := registry.Request{DPPID: "urn:a", ProductIdentifiers: gtin("04006381333931"), EconomicOperatorID: "op"}
		first, err := reg.Register(ctx, req)
		require.NoError(t, err)
		second, err := reg.Register(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, reg.Entries())

		doc, err := s.Get(ctx, "urn:a")
		require.NoError(t, err)
		assert.Len(t, doc.ChangeLog(), 2)
	})

	t.Run("Uses Passport Identifiers When None Given", func(t *testing.T) {
		s, reg := setup(t)
		_, err := s.Create(ctx, passport("urn:a", "gtin", "04006381333931", "serial", "SN-1"))
		require.NoError(t, err)

		_, err = reg.Register(ctx, registry.Request{DPPID: "urn:a", EconomicOperatorID: "op"})
		require.NoError(t, err)
		assert.Equal(t, 2, reg.Len())

		id, err := reg.Lookup("21", "SN-1")
		require.NoError(t, err)
		assert.Equal(t, "urn:a", id)
	})

	t.Run("Unknown Passport", func(t *testing.T) {
		_, reg := setup(t)
		_, err := reg.Register(ctx, registry.Request{DPPID: "urn:none", ProductIdentifiers: gtin("1"), EconomicOperatorID: "op"})
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.Zero(t, reg.Len())
	})

	t.Run("Last Write Wins", func(t *testing.T) {
		s, reg := setup(t)
		for _, id := range []string{"urn:a", "urn:b"} {
			_, err := s.Create(ctx, passport(id))
			require.NoError(t, err)
		}
		_, err := reg.Register(ctx, registry.Request{DPPID: "urn:a", ProductIdentifiers: gtin("04006381333931"), EconomicOperatorID: "op"})
		require.NoError(t, err)
		_, err = reg.Register(ctx, registry.Request{DPPID: "urn:b", ProductIdentifiers: gtin("04006381333931"), EconomicOperatorID: "op"})
		require.NoError(t, err)

		id, err := reg.Lookup("gtin", "04006381333931")
		require.NoError(t, err)
		assert.Equal(t, "urn:b", id)
	})

	t.Run("Reject Policy", func(t *testing.T) {
		s, reg := setup(t, registry.WithPolicy(registry.PolicyReject))
		for _, id := range []string{"urn:a", "urn:b"} {
			_, err := s.Create(ctx, passport(id))
			require.NoError(t, err)
		}
		_, err := reg.Register(ctx, registry.Request{DPPID: "urn:a", ProductIdentifiers: gtin("04006381333931"), EconomicOperatorID: "op"})
		require.NoError(t, err)
		_, err = reg.Register(ctx, registry.Request{DPPID: "urn:b", ProductIdentifiers: gtin("04006381333931"), EconomicOperatorID: "op"})
		assert.ErrorIs(t, err, core.ErrConflict)

		id, err := reg.Lookup("gtin", "04006381333931")
		require.NoError(t, err)
		assert.Equal(t, "urn:a", id)

		doc, err := s.Get(ctx, "urn:b")
		require.NoError(t, err)
		assert.NotContains(t, doc, core.KeyRegistry)
	})

	t.Run("Reregistering An Older Identifier Set Creates A Record", func(t *testing.T) {
		s, reg := setup(t)
		_, err := s.Create(ctx, passport("urn:a"))
		require.NoError(t, err)

		first, err := reg.Register(ctx, registry.Request{DPPID: "urn:a", ProductIdentifiers: gtin("04006381333931"), EconomicOperatorID: "op"})
		require.NoError(t, err)
		_, err = reg.Register(ctx, registry.Request{DPPID: "urn:a", ProductIdentifiers: gtin("04012345678901"), EconomicOperatorID: "op"})
		require.NoError(t, err)

		third, err := reg.Register(ctx, registry.Request{DPPID: "urn:a", ProductIdentifiers: gtin("04006381333931"), EconomicOperatorID: "op"})
		require.NoError(t, err)
		assert.NotEqual(t, first.RegistryID, third.RegistryID)
		assert.Equal(t, gtin("04006381333931"), third.ProductIdentifiers)
		assert.Equal(t, 3, reg.Entries())
	})

	t.Run("Failed Stamp Keeps Earlier Registrations", func(t *testing.T) {
		sink := &failingSink{}
		s := store.New(store.WithSink(sink))
		reg := registry.New(s)
		s.Subscribe(reg.Observe)
		for _, id := range []string{"urn:a", "urn:b"} {
			_, err := s.Create(ctx, passport(id))
			require.NoError(t, err)
		}
		first, err := reg.Register(ctx, registry.Request{DPPID: "urn:a", ProductIdentifiers: gtin("04012345678901"), EconomicOperatorID: "op"})
		require.NoError(t, err)
		_, err = reg.Register(ctx, registry.Request{DPPID: "urn:b", ProductIdentifiers: gtin("04006381333931"), EconomicOperatorID: "op"})
		require.NoError(t, err)

		sink.arm(errors.New("disk full"))
		_, err = reg.Register(ctx, registry.Request{
			DPPID:              "urn:a",
			ProductIdentifiers: []core.ProductIdentifier{{Scheme: "serial", Value: "SN1"}, {Scheme: "gtin", Value: "04006381333931"}},
			EconomicOperatorID: "op",
		})
		require.Error(t, err)

		id, err := reg.Lookup("gtin", "04012345678901")
		require.NoError(t, err)
		assert.Equal(t, "urn:a", id)
		id, err = reg.Lookup("gtin", "04006381333931")
		require.NoError(t, err)
		assert.Equal(t, "urn:b", id)
		_, err = reg.Lookup("serial", "SN1")
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.Equal(t, 2, reg.Entries())

		sink.arm(nil)
		again, err := reg.Register(ctx, registry.Request{DPPID: "urn:a", ProductIdentifiers: gtin("04012345678901"), EconomicOperatorID: "op"})
		require.NoError(t, err)
		assert.Equal(t, first, again)
	})

	t.Run("Deleting The Newer Owner Restores The Older One", func(t *testing.T) {
		s, reg := setup(t)
		for _, id := range []string{"urn:a", "urn:b"} {
			_, err := s.Create(ctx, passport(id))
			require.NoError(t, err)
		}
		_, err := reg.Register(ctx, registry.Request{DPPID: "urn:a", ProductIdentifiers: gtin("04006381333931"), EconomicOperatorID: "op"})
		require.NoError(t, err)
		_, err = reg.Register(ctx, registry.Request{DPPID: "urn:b", ProductIdentifiers: gtin("04006381333931"), EconomicOperatorID: "op"})
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "urn:b"))
		id, err := reg.Lookup("gtin", "04006381333931")
		require.NoError(t, err)
		assert.Equal(t, "urn:a", id)
		assert.Equal(t, 1, reg.Entries())
	})

	t.Run("Forgets Deleted Passports", func(t *testing.T) {
		s, reg := setup(t)
		_, err := s.Create(ctx, passport("urn:a"))
		require.NoError(t, err)
		_, err = reg.Register(ctx, registry.Request{DPPID: "urn:a", ProductIdentifiers: gtin("04006381333931"), EconomicOperatorID: "op"})
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "urn:a"))
		_, err = reg.Lookup("gtin", "04006381333931")
		assert.ErrorIs(t, err, core.ErrNotFound)
		assert.Zero(t, reg.Entries())
	})
}

func TestParsePolicy(t *testing.T) {
	p, err := registry.ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, registry.PolicyLastWriteWins, p)

	p, err = registry.ParsePolicy(" Reject ")
	require.NoError(t, err)
	assert.Equal(t, registry.PolicyReject, p)

	_, err = registry.ParsePolicy("first-wins")
	assert.Error(t, err)
}
