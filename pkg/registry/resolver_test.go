package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lignum/dpp/pkg/core"
	"github.com/lignum/dpp/pkg/registry"
)

const widget = "04006381333931"

func TestResolveByDigitalLink(t *testing.T) {
	ctx := context.Background()
	s, reg := setup(t)
	for _, doc := range []core.Document{
		passport("urn:a", "gtin", "4006381333931", "serial", "SN-1"),
		passport("urn:b", "gtin", widget, "serial", "SN-2", "batch", "L-7"),
		passport("urn:c", "gtin", "09506000134352"),
	} {
		_, err := s.Create(ctx, doc)
		require.NoError(t, err)
	}
	res := registry.NewResolver(s, reg, nil)

	t.Run("Scans When Unregistered", func(t *testing.T) {
		doc, err := res.ResolveByDigitalLink(ctx, "gtin", widget, "", "")
		require.NoError(t, err)
		assert.Equal(t, "urn:a", doc.ID())

		doc, err = res.ResolveByDigitalLink(ctx, "gtin", "4006381333931", "", "")
		require.NoError(t, err)
		assert.Equal(t, "urn:a", doc.ID())
	})

	t.Run("Narrows By Qualifier", func(t *testing.T) {
		doc, err := res.ResolveByDigitalLink(ctx, "gtin", widget, core.SchemeSerial, "SN-2")
		require.NoError(t, err)
		assert.Equal(t, "urn:b", doc.ID())

		doc, err = res.Resolve(ctx, "/id/01/"+widget+"/10/L-7")
		require.NoError(t, err)
		assert.Equal(t, "urn:b", doc.ID())

		doc, err = res.ResolveByDigitalLink(ctx, "gtin", widget, core.SchemeSerial, "SN-unknown")
		require.NoError(t, err)
		assert.Equal(t, "urn:a", doc.ID())
	})

	t.Run("Prefers Registry", func(t *testing.T) {
		_, err := reg.Register(ctx, registry.Request{DPPID: "urn:b", ProductIdentifiers: gtin(widget), EconomicOperatorID: "op"})
		require.NoError(t, err)

		doc, err := res.Resolve(ctx, "/01/"+widget)
		require.NoError(t, err)
		assert.Equal(t, "urn:b", doc.ID())

		doc, err = res.Resolve(ctx, "/01/"+widget+"/21/SN-1")
		require.NoError(t, err)
		assert.Equal(t, "urn:a", doc.ID())
	})

	t.Run("Not Found", func(t *testing.T) {
		_, err := res.ResolveByDigitalLink(ctx, "gtin", "00000000000000", "", "")
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = res.Resolve(ctx, "/id/01/"+widget+"/99/x")
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = res.Resolve(ctx, "/id/02/"+widget)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}

func TestResolveWithoutRegistry(t *testing.T) {
	ctx := context.Background()
	s, _ := setup(t)
	_, err := s.Create(ctx, passport("urn:z", "gtin", widget))
	require.NoError(t, err)

	doc, err := registry.NewResolver(s, nil, nil).ResolveByDigitalLink(ctx, "01", widget, "", "")
	require.NoError(t, err)
	assert.Equal(t, "urn:z", doc.ID())
}

func TestResolveByProductID(t *testing.T) {
	ctx := context.Background()
	s, reg := setup(t)
	for _, doc := range []core.Document{
		passport("urn:b", "serial", "SN-9"),
		passport("urn:a", "gtin", widget, "serial", "SN-9"),
	} {
		_, err := s.Create(ctx, doc)
		require.NoError(t, err)
	}
	res := registry.NewResolver(s, reg, nil)

	doc, err := res.ResolveByProductID(ctx, "SN-9")
	require.NoError(t, err)
	assert.Equal(t, "urn:a", doc.ID())

	doc, err = res.ResolveByProductID(ctx, "4006381333931")
	require.NoError(t, err)
	assert.Equal(t, "urn:a", doc.ID())

	_, err = res.ResolveByProductID(ctx, "nothing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
