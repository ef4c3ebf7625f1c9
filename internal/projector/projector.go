// Package projector reconstructs catalog views by replaying the event log
// and cross-checking live ledger state. No authoritative "list all items"
// query exists; every view is a deterministic fold over the log.
package projector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/artista/market-ledger/internal/domain"
	"github.com/artista/market-ledger/internal/eventlog"
	"github.com/artista/market-ledger/internal/logger"
	"github.com/artista/market-ledger/internal/metadata"
)

// cursorView is the key under which the fold cursor is persisted
const cursorView = "catalog"

// defaultHydrators bounds concurrent metadata fetches per view build
const defaultHydrators = 8

// TokenReader is the point-read surface of the token registry
type TokenReader interface {
	OwnerOf(ctx context.Context, id domain.TokenID) (domain.Identity, error)
}

// MarketReader is the point-read surface of the marketplace ledger
type MarketReader interface {
	ItemOf(ctx context.Context, id domain.TokenID) (domain.MarketItem, error)
}

// CatalogItem is one entry of a materialized view
type CatalogItem struct {
	TokenID     domain.TokenID           `json:"token_id"`
	State       domain.MarketItemState   `json:"state"`
	Seller      *domain.Identity         `json:"seller,omitempty"`
	Buyer       *domain.Identity         `json:"buyer,omitempty"`
	Price       *domain.Amount           `json:"price,omitempty"`
	MetadataRef domain.MetadataRef       `json:"metadata_ref,omitempty"`
	Metadata    *domain.MetadataDocument `json:"metadata,omitempty"`
}

// listingRecord is the fold state for ListingCreated, latest ordinal wins
type listingRecord struct {
	ordinal domain.Ordinal
	seller  domain.Identity
	price   domain.Amount
}

// purchaseRecord is the fold state for ItemBought, first ordinal wins
// per (token, buyer)
type purchaseRecord struct {
	ordinal domain.Ordinal
	price   domain.Amount
}

type purchaseKey struct {
	tokenID domain.TokenID
	buyer   domain.Identity
}

// Projector folds the event log into in-memory view state and serves
// catalog queries from it. Folds are idempotent, so replaying an already
// folded prefix is harmless.
type Projector struct {
	log      eventlog.Log
	tokens   TokenReader
	market   MarketReader
	cursors  eventlog.CursorStore
	content  metadata.Store
	workers  int

	mu        sync.Mutex
	cursor    domain.Ordinal
	listings  map[domain.TokenID]listingRecord
	minters   map[domain.TokenID]domain.Identity
	refs      map[domain.TokenID]domain.MetadataRef
	purchases map[purchaseKey]purchaseRecord
}

// Option configures a Projector
type Option func(*Projector)

// WithCursorStore records fold progress after each catch-up so operators
// can observe projection lag. The fold state itself lives in memory, so a
// fresh process always replays from ordinal zero; the fold is
// deterministic and idempotent, which makes that safe.
func WithCursorStore(cursors eventlog.CursorStore) Option {
	return func(p *Projector) { p.cursors = cursors }
}

// WithMetadataStore enables metadata hydration for view items
func WithMetadataStore(content metadata.Store) Option {
	return func(p *Projector) { p.content = content }
}

// WithHydrators sets the metadata fetch concurrency
func WithHydrators(n int) Option {
	return func(p *Projector) {
		if n > 0 {
			p.workers = n
		}
	}
}

// New creates a Projector over the given log and ledger read surfaces
func New(log eventlog.Log, tokens TokenReader, market MarketReader, opts ...Option) *Projector {
	p := &Projector{
		log:       log,
		tokens:    tokens,
		market:    market,
		workers:   defaultHydrators,
		listings:  make(map[domain.TokenID]listingRecord),
		minters:   make(map[domain.TokenID]domain.Identity),
		refs:      make(map[domain.TokenID]domain.MetadataRef),
		purchases: make(map[purchaseKey]purchaseRecord),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CatchUp folds every event at or after the in-memory cursor into the
// view state. The first call replays the whole log; later calls fold only
// what arrived since. A failed scan leaves the already folded state
// intact and is retried with backoff from the same cursor.
func (p *Projector) CatchUp(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	scan := func() error {
		return p.log.ScanFrom(ctx, p.cursor, func(e domain.Event) error {
			p.fold(e)
			return nil
		})
	}
	if err := backoff.Retry(scan, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
		return domain.Transient(fmt.Errorf("failed to scan event log: %w", err))
	}

	if p.cursors != nil {
		if err := p.cursors.SetViewCursor(ctx, cursorView, p.cursor); err != nil {
			// A stale cursor only means extra idempotent replay next time
			logger.Warn("failed to persist view cursor", zap.Error(err))
		}
	}
	return nil
}

// fold applies one event to the view state. Must hold p.mu.
func (p *Projector) fold(e domain.Event) {
	switch e.Kind {
	case domain.EventMinted:
		if e.To != nil {
			p.minters[e.TokenID] = *e.To
		}
		if e.MetadataRef != nil {
			p.refs[e.TokenID] = *e.MetadataRef
		}
	case domain.EventListingCreated:
		// The log may hold many listings per token across relist cycles;
		// the latest ordinal is the representative one
		if e.Seller == nil || *e.Seller == domain.ZeroIdentity || e.Price == nil {
			break
		}
		prev, ok := p.listings[e.TokenID]
		if !ok || prev.ordinal.Before(e.Ordinal) {
			p.listings[e.TokenID] = listingRecord{
				ordinal: e.Ordinal,
				seller:  *e.Seller,
				price:   *e.Price,
			}
		}
	case domain.EventItemBought:
		if e.Buyer == nil || e.Price == nil {
			break
		}
		key := purchaseKey{tokenID: e.TokenID, buyer: *e.Buyer}
		// First purchase wins when the same identity buys the same token
		// again in a later cycle
		if _, ok := p.purchases[key]; !ok {
			p.purchases[key] = purchaseRecord{ordinal: e.Ordinal, price: *e.Price}
		}
	}

	next := e.Ordinal
	next.Seq++
	p.cursor = next
}

// AllListings returns every token with a live listing cycle, classified
// OnSale or Sold. Tokens whose latest cycle ended in a delist are dropped.
func (p *Projector) AllListings(ctx context.Context) ([]CatalogItem, error) {
	if err := p.CatchUp(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	candidates := make([]domain.TokenID, 0, len(p.listings))
	for id := range p.listings {
		candidates = append(candidates, id)
	}
	p.mu.Unlock()

	items := make([]CatalogItem, 0, len(candidates))
	for _, id := range candidates {
		live, err := p.market.ItemOf(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read item %s: %w", id, err)
		}
		if live.State == domain.StateNotListed {
			continue
		}
		item := CatalogItem{
			TokenID:     id,
			State:       live.State,
			Seller:      domain.IdentityPtr(live.Seller),
			Price:       domain.AmountPtr(live.Price),
			MetadataRef: p.refOf(id),
		}
		if live.State == domain.StateSold {
			item.Buyer = domain.IdentityPtr(live.Buyer)
		}
		items = append(items, item)
	}

	p.hydrate(ctx, items)
	sortItems(items)
	return items, nil
}

// MyCreations returns tokens the identity minted and still owns
func (p *Projector) MyCreations(ctx context.Context, identity domain.Identity) ([]CatalogItem, error) {
	if err := p.CatchUp(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	candidates := make([]domain.TokenID, 0)
	for id, minter := range p.minters {
		if minter == identity {
			candidates = append(candidates, id)
		}
	}
	p.mu.Unlock()

	items := make([]CatalogItem, 0, len(candidates))
	for _, id := range candidates {
		// Ownership comes from a live read, not event replay, since the
		// token may have been transferred any number of times
		owner, err := p.tokens.OwnerOf(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read owner of %s: %w", id, err)
		}
		if owner != identity {
			continue
		}

		live, err := p.market.ItemOf(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to read item %s: %w", id, err)
		}
		item := CatalogItem{
			TokenID:     id,
			State:       live.State,
			MetadataRef: p.refOf(id),
		}
		if live.State != domain.StateNotListed {
			item.Seller = domain.IdentityPtr(live.Seller)
			item.Price = domain.AmountPtr(live.Price)
		}
		items = append(items, item)
	}

	p.hydrate(ctx, items)
	sortItems(items)
	return items, nil
}

// BoughtByMe returns tokens the identity has purchased, one entry per
// token keyed to the earliest purchase
func (p *Projector) BoughtByMe(ctx context.Context, identity domain.Identity) ([]CatalogItem, error) {
	if err := p.CatchUp(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	items := make([]CatalogItem, 0)
	for key, record := range p.purchases {
		if key.buyer != identity {
			continue
		}
		items = append(items, CatalogItem{
			TokenID:     key.tokenID,
			State:       domain.StateSold,
			Buyer:       domain.IdentityPtr(identity),
			Price:       domain.AmountPtr(record.price),
			MetadataRef: p.refs[key.tokenID],
		})
	}
	p.mu.Unlock()

	p.hydrate(ctx, items)
	sortItems(items)
	return items, nil
}

func (p *Projector) refOf(id domain.TokenID) domain.MetadataRef {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs[id]
}

// hydrate fetches metadata for each item with a bounded worker pool.
// Failures leave Metadata nil; the catalog entry still renders.
func (p *Projector) hydrate(ctx context.Context, items []CatalogItem) {
	if p.content == nil || len(items) == 0 {
		return
	}

	pool := pond.NewPool(p.workers)
	for i := range items {
		if items[i].MetadataRef == "" {
			continue
		}
		item := &items[i]
		pool.Submit(func() {
			doc, err := p.content.Get(ctx, item.MetadataRef)
			if err != nil {
				logger.Warn("failed to hydrate metadata",
					zap.String("token_id", item.TokenID.String()),
					zap.Error(err))
				return
			}
			item.Metadata = &doc
		})
	}
	pool.StopAndWait()
}

func sortItems(items []CatalogItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].TokenID < items[j].TokenID
	})
}
