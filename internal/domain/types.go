package domain

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Identity represents a participant address on the deployed network
type Identity = common.Address

// ZeroIdentity is the unset participant address
var ZeroIdentity Identity

// ParseIdentity parses a hex-encoded identity, rejecting malformed input
func ParseIdentity(s string) (Identity, bool) {
	if !common.IsHexAddress(s) {
		return ZeroIdentity, false
	}
	return common.HexToAddress(s), true
}

// TokenID is the unique token identifier, assigned at mint time and never reused
type TokenID uint64

// String returns the decimal representation of the token ID
func (t TokenID) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// ParseTokenID parses a decimal token ID
func ParseTokenID(s string) (TokenID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return TokenID(n), nil
}

// Amount is a monetary amount in the smallest transferable unit.
// All money in the ledger is unsigned fixed-precision; no floating point.
type Amount uint64

// MetadataRef is an immutable content-addressed pointer to an external
// metadata document (e.g. "sha256:ab12...")
type MetadataRef string

// Token represents an entry in the authoritative ownership ledger
type Token struct {
	// ID is the globally unique token identifier
	ID TokenID `json:"id"`
	// Owner is the current holder identity
	Owner Identity `json:"owner"`
	// ApprovedOperator is the single identity authorized to transfer the
	// token on the owner's behalf; nil when no approval is active
	ApprovedOperator *Identity `json:"approved_operator,omitempty"`
	// MetadataRef points at the token's metadata document, set once at mint
	MetadataRef MetadataRef `json:"metadata_ref"`
}

// MarketItemState represents the listing state of a token in the marketplace
type MarketItemState string

const (
	// StateNotListed means the token has no active listing
	StateNotListed MarketItemState = "not_listed"
	// StateOnSale means the token has an active listing awaiting a buyer
	StateOnSale MarketItemState = "on_sale"
	// StateSold means the latest listing cycle completed with a purchase
	StateSold MarketItemState = "sold"
)

// MarketItem represents the latest listing cycle for a token.
// Exactly one MarketItem state is associated with a token at any instant;
// prior cycles are superseded, not exposed.
type MarketItem struct {
	TokenID TokenID         `json:"token_id"`
	State   MarketItemState `json:"state"`
	// Seller is the identity that created the current or most recent listing
	Seller Identity `json:"seller"`
	// Buyer is the identity that purchased the item in the current cycle;
	// zero while on sale or not listed
	Buyer Identity `json:"buyer"`
	// Price is the amount a buyer must pay, fixed for the listing's lifetime
	Price Amount `json:"price"`
	// CommissionHeld is the listing fee escrowed for the current cycle;
	// non-zero only while the state is OnSale
	CommissionHeld Amount `json:"commission_held"`
}

// MetadataDocument is the external metadata content for a token
type MetadataDocument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}
