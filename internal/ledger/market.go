package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/artista/market-ledger/internal/domain"
)

// CommissionPolicy decides where the escrowed listing fee goes when a sale
// completes. Delisting always refunds the seller regardless of policy.
type CommissionPolicy string

const (
	// CommissionForfeit pays the escrowed fee to the platform administrator
	// on a completed sale
	CommissionForfeit CommissionPolicy = "forfeit"
	// CommissionRefund returns the escrowed fee to the seller on a
	// completed sale
	CommissionRefund CommissionPolicy = "refund"
)

// MarketConfig holds the marketplace ledger configuration
type MarketConfig struct {
	// Identity is the marketplace's own address; owners must approve it as
	// the token operator before listing
	Identity domain.Identity
	// Admin is the platform administrator, the only identity allowed to
	// change the listing fee
	Admin domain.Identity
	// ListingFee is the initial fee escrowed per listing
	ListingFee domain.Amount
	// Commission selects the fee disposition on a completed sale;
	// defaults to CommissionForfeit
	Commission CommissionPolicy
}

// marketItem is the live record of a token's latest listing cycle
type marketItem struct {
	state          domain.MarketItemState
	seller         domain.Identity
	buyer          domain.Identity
	price          domain.Amount
	commissionHeld domain.Amount
}

// MarketplaceLedger is the per-token listing and escrow state machine.
// The transition table is {NotListed,Sold} --createListing--> OnSale,
// OnSale --buy--> Sold, OnSale --delist--> NotListed; every other
// transition is rejected. Escrowed funds are owned exclusively by this
// ledger and leave it exactly once per cycle.
type MarketplaceLedger struct {
	seq      *Sequencer
	registry *TokenRegistry
	self     domain.Identity
	admin    domain.Identity
	policy   CommissionPolicy

	mu        sync.RWMutex
	fee       domain.Amount
	items     map[domain.TokenID]*marketItem
	balances  map[domain.Identity]domain.Amount
	deposited domain.Amount
	disbursed domain.Amount
	escrowed  domain.Amount
}

// NewMarketplaceLedger creates a marketplace ledger committing through the
// same sequencer as the registry it transfers tokens on
func NewMarketplaceLedger(seq *Sequencer, registry *TokenRegistry, cfg MarketConfig) (*MarketplaceLedger, error) {
	if cfg.ListingFee == 0 {
		return nil, fmt.Errorf("listing fee: %w", domain.ErrInvalidAmount)
	}
	if cfg.Identity == domain.ZeroIdentity || cfg.Admin == domain.ZeroIdentity {
		return nil, fmt.Errorf("marketplace and admin identities are required")
	}
	policy := cfg.Commission
	if policy == "" {
		policy = CommissionForfeit
	}
	if policy != CommissionForfeit && policy != CommissionRefund {
		return nil, fmt.Errorf("unknown commission policy %q", policy)
	}
	return &MarketplaceLedger{
		seq:      seq,
		registry: registry,
		self:     cfg.Identity,
		admin:    cfg.Admin,
		policy:   policy,
		fee:      cfg.ListingFee,
		items:    make(map[domain.TokenID]*marketItem),
		balances: make(map[domain.Identity]domain.Amount),
	}, nil
}

// Identity returns the marketplace's own operator address
func (m *MarketplaceLedger) Identity() domain.Identity {
	return m.self
}

// Admin returns the platform administrator identity
func (m *MarketplaceLedger) Admin() domain.Identity {
	return m.admin
}

// CreateListing opens a new listing cycle for the token. Preconditions are
// checked in order with the first failure winning: the token must exist,
// the item must not already be on sale, the caller must own the token, the
// marketplace must hold the token's approval slot, the price must be
// positive, and the attached deposit must equal the current listing fee.
// The deposit is escrowed until the cycle ends.
func (m *MarketplaceLedger) CreateListing(ctx context.Context, tokenID domain.TokenID, price, deposited domain.Amount, caller domain.Identity) error {
	return m.seq.Commit(ctx, func(txn *Txn) error {
		token := m.registry.lookup(tokenID)
		if token == nil {
			return domain.ErrUnknownToken
		}
		if item := m.lookupItem(tokenID); item != nil && item.state == domain.StateOnSale {
			return domain.ErrListingAlreadyActive
		}
		if !IsOwner(token, caller) {
			return domain.ErrNotOwner
		}
		if !IsApprovedOperator(token, m.self) {
			return domain.ErrNotApproved
		}
		if price == 0 {
			return domain.ErrInvalidAmount
		}
		fee := m.CurrentFee(ctx)
		if deposited != fee {
			return domain.ErrWrongFee
		}

		txn.Emit(domain.Event{
			Kind:    domain.EventListingCreated,
			TokenID: tokenID,
			Seller:  domain.IdentityPtr(caller),
			Price:   domain.AmountPtr(price),
			Fee:     domain.AmountPtr(deposited),
		})
		txn.Stage(func() {
			m.mu.Lock()
			m.items[tokenID] = &marketItem{
				state:          domain.StateOnSale,
				seller:         caller,
				price:          price,
				commissionHeld: deposited,
			}
			m.deposited += deposited
			m.escrowed += deposited
			m.mu.Unlock()
		})
		return nil
	})
}

// Buy completes the token's active listing cycle. The payment goes to the
// seller, the escrowed commission is disbursed per policy, and ownership
// transfers to the buyer, all within one commit: no observer can see the
// payment made but ownership not yet transferred, or vice versa.
func (m *MarketplaceLedger) Buy(ctx context.Context, tokenID domain.TokenID, paid domain.Amount, caller domain.Identity) error {
	return m.seq.Commit(ctx, func(txn *Txn) error {
		if m.registry.lookup(tokenID) == nil {
			return domain.ErrUnknownToken
		}
		item := m.lookupItem(tokenID)
		if item == nil || item.state != domain.StateOnSale {
			return domain.ErrNotOnSale
		}
		if caller == item.seller {
			return domain.ErrSellerCannotBuy
		}
		if paid != item.price {
			return domain.ErrWrongPayment
		}

		seller := item.seller
		commission := item.commissionHeld
		commissionRecipient := m.admin
		if m.policy == CommissionRefund {
			commissionRecipient = seller
		}

		txn.Emit(domain.Event{
			Kind:    domain.EventItemBought,
			TokenID: tokenID,
			Buyer:   domain.IdentityPtr(caller),
			Price:   domain.AmountPtr(paid),
		})
		if err := m.registry.transferOnSale(txn, tokenID, caller); err != nil {
			return err
		}
		txn.Stage(func() {
			m.mu.Lock()
			m.deposited += paid
			m.balances[seller] += paid
			m.balances[commissionRecipient] += commission
			m.disbursed += paid + commission
			m.escrowed -= commission
			item.state = domain.StateSold
			item.buyer = caller
			item.commissionHeld = 0
			m.mu.Unlock()
		})
		return nil
	})
}

// Delist ends the token's active listing cycle without a sale, refunding
// the escrowed fee to the seller
func (m *MarketplaceLedger) Delist(ctx context.Context, tokenID domain.TokenID, caller domain.Identity) error {
	return m.seq.Commit(ctx, func(txn *Txn) error {
		if m.registry.lookup(tokenID) == nil {
			return domain.ErrUnknownToken
		}
		item := m.lookupItem(tokenID)
		if item == nil || item.state != domain.StateOnSale {
			return domain.ErrNotOnSale
		}
		snapshot := m.itemSnapshot(tokenID, item)
		if !IsSeller(&snapshot, caller) {
			return domain.ErrNotSeller
		}

		refund := item.commissionHeld

		txn.Emit(domain.Event{
			Kind:    domain.EventListingCancelled,
			TokenID: tokenID,
			Seller:  domain.IdentityPtr(caller),
		})
		txn.Stage(func() {
			m.mu.Lock()
			m.balances[caller] += refund
			m.disbursed += refund
			m.escrowed -= refund
			item.state = domain.StateNotListed
			item.seller = domain.ZeroIdentity
			item.buyer = domain.ZeroIdentity
			item.price = 0
			item.commissionHeld = 0
			m.mu.Unlock()
		})
		return nil
	})
}

// SetListingFee changes the fee escrowed by future listings. Admin only;
// listings already on sale keep the fee they escrowed.
func (m *MarketplaceLedger) SetListingFee(ctx context.Context, amount domain.Amount, caller domain.Identity) error {
	return m.seq.Commit(ctx, func(txn *Txn) error {
		if !IsAdmin(m.admin, caller) {
			return domain.ErrNotAdmin
		}
		if amount == 0 {
			return domain.ErrInvalidAmount
		}
		txn.Stage(func() {
			m.mu.Lock()
			m.fee = amount
			m.mu.Unlock()
		})
		return nil
	})
}

// CurrentFee returns the fee a new listing must deposit
func (m *MarketplaceLedger) CurrentFee(ctx context.Context) domain.Amount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fee
}

// ItemOf returns the latest listing cycle for the token. A minted token
// that was never listed reports the implicit NotListed state; an unknown
// token fails with ErrUnknownToken so "never existed" stays
// distinguishable from "exists but not listed".
func (m *MarketplaceLedger) ItemOf(ctx context.Context, tokenID domain.TokenID) (domain.MarketItem, error) {
	if m.registry.lookup(tokenID) == nil {
		return domain.MarketItem{}, domain.ErrUnknownToken
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[tokenID]
	if !ok {
		return domain.MarketItem{TokenID: tokenID, State: domain.StateNotListed}, nil
	}
	return m.itemSnapshot(tokenID, item), nil
}

// BalanceOf returns the funds disbursed to id so far
func (m *MarketplaceLedger) BalanceOf(ctx context.Context, id domain.Identity) domain.Amount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[id]
}

// FundsSnapshot returns the running totals of deposited, disbursed and
// currently escrowed funds. Conservation holds at every instant:
// deposited == disbursed + escrowed.
func (m *MarketplaceLedger) FundsSnapshot(ctx context.Context) (deposited, disbursed, escrowed domain.Amount) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deposited, m.disbursed, m.escrowed
}

// lookupItem returns the live item record, or nil before the first listing
func (m *MarketplaceLedger) lookupItem(tokenID domain.TokenID) *marketItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[tokenID]
}

func (m *MarketplaceLedger) itemSnapshot(tokenID domain.TokenID, item *marketItem) domain.MarketItem {
	return domain.MarketItem{
		TokenID:        tokenID,
		State:          item.state,
		Seller:         item.seller,
		Buyer:          item.buyer,
		Price:          item.price,
		CommissionHeld: item.commissionHeld,
	}
}
