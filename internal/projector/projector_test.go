package projector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artista/market-ledger/internal/domain"
	"github.com/artista/market-ledger/internal/eventlog"
	"github.com/artista/market-ledger/internal/ledger"
)

var (
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol      = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	admin      = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	marketAddr = common.HexToAddress("0x00000000000000000000000000000000000000de")
)

const listingFee = domain.Amount(25)

type fixture struct {
	t        *testing.T
	log      eventlog.Log
	registry *ledger.TokenRegistry
	market   *ledger.MarketplaceLedger
}

func newFixture(t *testing.T) *fixture {
	log := eventlog.NewMemoryLog()
	seq := ledger.NewSequencer(log)
	registry := ledger.NewTokenRegistry(seq)
	market, err := ledger.NewMarketplaceLedger(seq, registry, ledger.MarketConfig{
		Identity:   marketAddr,
		Admin:      admin,
		ListingFee: listingFee,
	})
	require.NoError(t, err)
	return &fixture{t: t, log: log, registry: registry, market: market}
}

func (f *fixture) mint(id domain.TokenID, owner domain.Identity) {
	ctx := context.Background()
	_, err := f.registry.Mint(ctx, id, domain.MetadataRef("sha256:"+id.String()), owner)
	require.NoError(f.t, err)
}

func (f *fixture) list(id domain.TokenID, owner domain.Identity, price domain.Amount) {
	ctx := context.Background()
	require.NoError(f.t, f.registry.Approve(ctx, id, marketAddr, owner))
	require.NoError(f.t, f.market.CreateListing(ctx, id, price, listingFee, owner))
}

func (f *fixture) buy(id domain.TokenID, buyer domain.Identity, price domain.Amount) {
	require.NoError(f.t, f.market.Buy(context.Background(), id, price, buyer))
}

func (f *fixture) delist(id domain.TokenID, seller domain.Identity) {
	require.NoError(f.t, f.market.Delist(context.Background(), id, seller))
}

func (f *fixture) projector(opts ...Option) *Projector {
	return New(f.log, f.registry, f.market, opts...)
}

func tokenIDs(items []CatalogItem) []domain.TokenID {
	ids := make([]domain.TokenID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.TokenID)
	}
	return ids
}

func TestAllListingsDropsDelistedAndClassifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.mint(1, alice)
	f.mint(2, alice)
	f.mint(3, alice)
	f.list(1, alice, 100)
	f.list(2, alice, 200)
	f.list(3, alice, 300)
	f.delist(2, alice)
	f.buy(3, bob, 300)

	items, err := f.projector().AllListings(ctx)
	require.NoError(t, err)
	require.Equal(t, []domain.TokenID{1, 3}, tokenIDs(items))

	assert.Equal(t, domain.StateOnSale, items[0].State)
	require.NotNil(t, items[0].Seller)
	assert.Equal(t, alice, *items[0].Seller)
	require.NotNil(t, items[0].Price)
	assert.Equal(t, domain.Amount(100), *items[0].Price)

	assert.Equal(t, domain.StateSold, items[1].State)
	require.NotNil(t, items[1].Buyer)
	assert.Equal(t, bob, *items[1].Buyer)
}

func TestAllListingsSurvivesRelistCycles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Token 1 goes through list, delist, relist; the log holds two
	// ListingCreated events and the later one must represent the token
	f.mint(1, alice)
	f.list(1, alice, 100)
	f.delist(1, alice)
	f.list(1, alice, 150)

	items, err := f.projector().AllListings(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.StateOnSale, items[0].State)
	assert.Equal(t, domain.Amount(150), *items[0].Price)
}

func TestMyCreationsRequiresMintAndCurrentOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.mint(1, alice)
	f.mint(2, alice)
	f.mint(3, bob)
	f.list(2, alice, 200)
	f.buy(2, bob, 200)

	// Token 2 left alice's hands, so it is no longer her creation view's
	items, err := f.projector().MyCreations(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []domain.TokenID{1}, tokenIDs(items))
	assert.Equal(t, domain.StateNotListed, items[0].State)

	// Bob owns token 2 now but did not mint it
	items, err = f.projector().MyCreations(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []domain.TokenID{3}, tokenIDs(items))
}

func TestMyCreationsClassifiesListedTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.mint(1, alice)
	f.list(1, alice, 100)

	items, err := f.projector().MyCreations(ctx, alice)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.StateOnSale, items[0].State)
	require.NotNil(t, items[0].Price)
	assert.Equal(t, domain.Amount(100), *items[0].Price)
}

func TestBoughtByMeKeepsFirstPurchase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Bob buys token 1 twice across cycles: alice -> bob -> carol -> bob
	f.mint(1, alice)
	f.list(1, alice, 100)
	f.buy(1, bob, 100)
	f.list(1, bob, 200)
	f.buy(1, carol, 200)
	f.list(1, carol, 300)
	f.buy(1, bob, 300)

	items, err := f.projector().BoughtByMe(ctx, bob)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.TokenID(1), items[0].TokenID)
	require.NotNil(t, items[0].Price)
	assert.Equal(t, domain.Amount(100), *items[0].Price, "first purchase wins")

	items, err = f.projector().BoughtByMe(ctx, carol)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, domain.Amount(200), *items[0].Price)
}

func TestReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.mint(1, alice)
	f.list(1, alice, 100)
	f.mint(2, bob)
	f.list(2, bob, 200)
	f.buy(2, alice, 200)

	p := f.projector()
	first, err := p.AllListings(ctx)
	require.NoError(t, err)

	// A fresh projector over the same log and the same projector folding
	// again both land on identical contents
	second, err := p.AllListings(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	fresh, err := f.projector().AllListings(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, fresh)
}

func TestCatchUpRecordsFoldProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cursors := eventlog.NewMemoryCursorStore()

	f.mint(1, alice)
	f.list(1, alice, 100)

	p := f.projector(WithCursorStore(cursors))
	require.NoError(t, p.CatchUp(ctx))

	first, err := cursors.GetViewCursor(ctx, "catalog")
	require.NoError(t, err)
	assert.NotEqual(t, domain.Ordinal{}, first)

	// Later catch-ups fold only new events and advance the cursor
	f.mint(2, bob)
	f.list(2, bob, 200)
	require.NoError(t, p.CatchUp(ctx))

	second, err := cursors.GetViewCursor(ctx, "catalog")
	require.NoError(t, err)
	assert.True(t, first.Before(second))

	// A fresh process replays from zero and sees the complete catalog
	restarted := f.projector(WithCursorStore(cursors))
	items, err := restarted.AllListings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.TokenID{1, 2}, tokenIDs(items))
}

func TestCatchUpFailureIsTransient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t)

	p := New(brokenLog{}, f.registry, f.market)
	cancel()
	err := p.CatchUp(ctx)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.False(t, domain.IsRejection(err))
}

type brokenLog struct{}

func (brokenLog) Append(ctx context.Context, events ...domain.Event) error {
	return errors.New("read only")
}

func (brokenLog) ScanFrom(ctx context.Context, from domain.Ordinal, fn func(domain.Event) error) error {
	return errors.New("log unavailable")
}

// fakeContent serves canned metadata documents and counts fetches
type fakeContent struct {
	mu    sync.Mutex
	docs  map[domain.MetadataRef]domain.MetadataDocument
	calls int
}

func (c *fakeContent) Get(ctx context.Context, ref domain.MetadataRef) (domain.MetadataDocument, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	doc, ok := c.docs[ref]
	if !ok {
		return domain.MetadataDocument{}, domain.Transient(errors.New("not pinned"))
	}
	return doc, nil
}

func (c *fakeContent) Add(ctx context.Context, doc domain.MetadataDocument) (domain.MetadataRef, error) {
	return "", errors.New("not implemented")
}

func (c *fakeContent) AddBlob(ctx context.Context, data []byte, contentType string) (domain.MetadataRef, error) {
	return "", errors.New("not implemented")
}

func TestViewsHydrateMetadata(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.mint(1, alice)
	f.list(1, alice, 100)
	f.mint(2, alice)
	f.list(2, alice, 200)

	content := &fakeContent{docs: map[domain.MetadataRef]domain.MetadataDocument{
		"sha256:1": {Name: "One", Description: "first", Image: "sha256:img1"},
	}}

	items, err := f.projector(WithMetadataStore(content), WithHydrators(2)).AllListings(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.NotNil(t, items[0].Metadata)
	assert.Equal(t, "One", items[0].Metadata.Name)

	// A hydration failure leaves the entry in the view without metadata
	assert.Nil(t, items[1].Metadata)
	assert.Equal(t, 2, content.calls)
}
