package ledger

import (
	"context"
	"fmt"

	"github.com/artista/market-ledger/internal/domain"
	"github.com/artista/market-ledger/internal/eventlog"
)

// Restore replays the persisted event log into freshly constructed
// ledgers and advances the sequencer past the highest replayed block.
// It must run before the sequencer accepts commits. Approval slots are
// not evented and come back empty; owners approve again after a restart.
func Restore(ctx context.Context, log eventlog.Log, seq *Sequencer, registry *TokenRegistry, market *MarketplaceLedger) error {
	var height uint64

	err := log.ScanFrom(ctx, domain.Ordinal{}, func(e domain.Event) error {
		if e.Ordinal.Block > height {
			height = e.Ordinal.Block
		}
		return applyEvent(registry, market, e)
	})
	if err != nil {
		return fmt.Errorf("replay event log: %w", err)
	}

	seq.mu.Lock()
	if height > seq.height {
		seq.height = height
	}
	seq.mu.Unlock()
	return nil
}

// applyEvent mirrors the staged state change each commit path records
// for its event kind. The log is trusted; malformed records fail the
// restore rather than being skipped.
func applyEvent(registry *TokenRegistry, market *MarketplaceLedger, e domain.Event) error {
	switch e.Kind {
	case domain.EventMinted:
		if e.To == nil || e.MetadataRef == nil {
			return fmt.Errorf("minted event %d-%d missing owner or metadata ref", e.Ordinal.Block, e.Ordinal.Seq)
		}
		registry.mu.Lock()
		registry.tokens[e.TokenID] = &domain.Token{
			ID:          e.TokenID,
			Owner:       *e.To,
			MetadataRef: *e.MetadataRef,
		}
		registry.mu.Unlock()

	case domain.EventTransferred:
		if e.To == nil {
			return fmt.Errorf("transfer event %d-%d missing recipient", e.Ordinal.Block, e.Ordinal.Seq)
		}
		registry.mu.Lock()
		token, ok := registry.tokens[e.TokenID]
		if !ok {
			registry.mu.Unlock()
			return fmt.Errorf("transfer event %d-%d references unminted token %d", e.Ordinal.Block, e.Ordinal.Seq, e.TokenID)
		}
		token.Owner = *e.To
		token.ApprovedOperator = nil
		registry.mu.Unlock()

	case domain.EventListingCreated:
		if e.Seller == nil || e.Price == nil || e.Fee == nil {
			return fmt.Errorf("listing event %d-%d missing seller, price or fee", e.Ordinal.Block, e.Ordinal.Seq)
		}
		market.mu.Lock()
		market.items[e.TokenID] = &marketItem{
			state:          domain.StateOnSale,
			seller:         *e.Seller,
			price:          *e.Price,
			commissionHeld: *e.Fee,
		}
		market.deposited += *e.Fee
		market.escrowed += *e.Fee
		market.mu.Unlock()

	case domain.EventItemBought:
		if e.Buyer == nil || e.Price == nil {
			return fmt.Errorf("purchase event %d-%d missing buyer or price", e.Ordinal.Block, e.Ordinal.Seq)
		}
		market.mu.Lock()
		item, ok := market.items[e.TokenID]
		if !ok || item.state != domain.StateOnSale {
			market.mu.Unlock()
			return fmt.Errorf("purchase event %d-%d for token %d without an active listing", e.Ordinal.Block, e.Ordinal.Seq, e.TokenID)
		}
		commission := item.commissionHeld
		commissionRecipient := market.admin
		if market.policy == CommissionRefund {
			commissionRecipient = item.seller
		}
		market.deposited += *e.Price
		market.balances[item.seller] += *e.Price
		market.balances[commissionRecipient] += commission
		market.disbursed += *e.Price + commission
		market.escrowed -= commission
		item.state = domain.StateSold
		item.buyer = *e.Buyer
		item.commissionHeld = 0
		market.mu.Unlock()

	case domain.EventListingCancelled:
		if e.Seller == nil {
			return fmt.Errorf("delist event %d-%d missing seller", e.Ordinal.Block, e.Ordinal.Seq)
		}
		market.mu.Lock()
		item, ok := market.items[e.TokenID]
		if !ok || item.state != domain.StateOnSale {
			market.mu.Unlock()
			return fmt.Errorf("delist event %d-%d for token %d without an active listing", e.Ordinal.Block, e.Ordinal.Seq, e.TokenID)
		}
		refund := item.commissionHeld
		market.balances[*e.Seller] += refund
		market.disbursed += refund
		market.escrowed -= refund
		item.state = domain.StateNotListed
		item.seller = domain.ZeroIdentity
		item.buyer = domain.ZeroIdentity
		item.price = 0
		item.commissionHeld = 0
		market.mu.Unlock()

	default:
		return fmt.Errorf("event %d-%d has unknown kind %q", e.Ordinal.Block, e.Ordinal.Seq, e.Kind)
	}
	return nil
}
