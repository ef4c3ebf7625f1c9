package ledger

import (
	"context"
	"sync"

	"github.com/artista/market-ledger/internal/domain"
)

// TokenRegistry is the authoritative ownership ledger. Tokens are created
// by Mint, mutated only by Approve and by a completed purchase, and never
// destroyed.
type TokenRegistry struct {
	seq *Sequencer

	mu     sync.RWMutex
	tokens map[domain.TokenID]*domain.Token
}

// NewTokenRegistry creates an empty token registry committing through seq
func NewTokenRegistry(seq *Sequencer) *TokenRegistry {
	return &TokenRegistry{
		seq:    seq,
		tokens: make(map[domain.TokenID]*domain.Token),
	}
}

// Mint creates a new token owned by caller. Fails with ErrDuplicateID when
// the ID was used before; IDs are never reused, even conceptually, so a
// collision is terminal for the caller to resolve with a fresh ID.
func (r *TokenRegistry) Mint(ctx context.Context, id domain.TokenID, ref domain.MetadataRef, caller domain.Identity) (domain.Token, error) {
	var minted domain.Token
	err := r.seq.Commit(ctx, func(txn *Txn) error {
		if r.lookup(id) != nil {
			return domain.ErrDuplicateID
		}

		minted = domain.Token{ID: id, Owner: caller, MetadataRef: ref}

		txn.Emit(domain.Event{
			Kind:        domain.EventMinted,
			TokenID:     id,
			To:          domain.IdentityPtr(caller),
			MetadataRef: domain.MetadataRefPtr(ref),
		})
		txn.Stage(func() {
			token := minted
			r.mu.Lock()
			r.tokens[id] = &token
			r.mu.Unlock()
		})
		return nil
	})
	if err != nil {
		return domain.Token{}, err
	}
	return minted, nil
}

// Approve sets the token's single operator slot to operator. A second call
// overwrites the previous approval. Fails with ErrNotOwner unless caller
// owns the token.
func (r *TokenRegistry) Approve(ctx context.Context, id domain.TokenID, operator, caller domain.Identity) error {
	return r.seq.Commit(ctx, func(txn *Txn) error {
		token := r.lookup(id)
		if token == nil {
			return domain.ErrUnknownToken
		}
		if !IsOwner(token, caller) {
			return domain.ErrNotOwner
		}

		txn.Stage(func() {
			r.mu.Lock()
			r.tokens[id].ApprovedOperator = domain.IdentityPtr(operator)
			r.mu.Unlock()
		})
		return nil
	})
}

// transferOnSale moves ownership to newOwner and clears the approval slot.
// Privileged: only the marketplace ledger calls this, from inside its own
// buy transaction, which is why it takes the open Txn rather than
// committing itself.
func (r *TokenRegistry) transferOnSale(txn *Txn, id domain.TokenID, newOwner domain.Identity) error {
	token := r.lookup(id)
	if token == nil {
		return domain.ErrUnknownToken
	}
	previous := token.Owner

	txn.Emit(domain.Event{
		Kind:    domain.EventTransferred,
		TokenID: id,
		From:    domain.IdentityPtr(previous),
		To:      domain.IdentityPtr(newOwner),
	})
	txn.Stage(func() {
		r.mu.Lock()
		r.tokens[id].Owner = newOwner
		r.tokens[id].ApprovedOperator = nil
		r.mu.Unlock()
	})
	return nil
}

// OwnerOf returns the current holder of the token
func (r *TokenRegistry) OwnerOf(ctx context.Context, id domain.TokenID) (domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[id]
	if !ok {
		return domain.ZeroIdentity, domain.ErrUnknownToken
	}
	return token.Owner, nil
}

// GetApproved returns the identity holding the token's approval slot, or
// nil when no approval is active
func (r *TokenRegistry) GetApproved(ctx context.Context, id domain.TokenID) (*domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[id]
	if !ok {
		return nil, domain.ErrUnknownToken
	}
	if token.ApprovedOperator == nil {
		return nil, nil
	}
	return domain.IdentityPtr(*token.ApprovedOperator), nil
}

// MetadataRef returns the token's immutable metadata pointer
func (r *TokenRegistry) MetadataRef(ctx context.Context, id domain.TokenID) (domain.MetadataRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[id]
	if !ok {
		return "", domain.ErrUnknownToken
	}
	return token.MetadataRef, nil
}

// GetToken returns a snapshot of the token record
func (r *TokenRegistry) GetToken(ctx context.Context, id domain.TokenID) (domain.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.tokens[id]
	if !ok {
		return domain.Token{}, domain.ErrUnknownToken
	}
	snapshot := *token
	if token.ApprovedOperator != nil {
		snapshot.ApprovedOperator = domain.IdentityPtr(*token.ApprovedOperator)
	}
	return snapshot, nil
}

// lookup returns the live token record, or nil when the ID was never
// minted. Callers inside a commit callback see committed state only.
func (r *TokenRegistry) lookup(id domain.TokenID) *domain.Token {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokens[id]
}
