package domain

import "time"

// EventKind represents the type of domain event recorded in the event log
type EventKind string

const (
	// EventMinted indicates a new token was created
	EventMinted EventKind = "minted"
	// EventTransferred indicates token ownership changed on a completed sale
	EventTransferred EventKind = "transferred"
	// EventListingCreated indicates a new listing cycle was opened
	EventListingCreated EventKind = "listing_created"
	// EventItemBought indicates a listing cycle completed with a purchase
	EventItemBought EventKind = "item_bought"
	// EventListingCancelled indicates a listing cycle ended with a delist.
	// Emitted for observability; projections do not depend on it.
	EventListingCancelled EventKind = "listing_cancelled"
)

// Ordinal is the total order key for domain events: block height first,
// then intra-block sequence. Assigned monotonically by the sequencer.
type Ordinal struct {
	Block uint64 `json:"block"`
	Seq   uint32 `json:"seq"`
}

// Compare returns -1, 0 or 1 ordering o against other
func (o Ordinal) Compare(other Ordinal) int {
	switch {
	case o.Block < other.Block:
		return -1
	case o.Block > other.Block:
		return 1
	case o.Seq < other.Seq:
		return -1
	case o.Seq > other.Seq:
		return 1
	default:
		return 0
	}
}

// Before reports whether o is strictly earlier than other
func (o Ordinal) Before(other Ordinal) bool {
	return o.Compare(other) < 0
}

// Event represents an immutable domain event appended to the event log.
// Participant fields are pointers; which ones are set depends on the kind.
type Event struct {
	Ordinal Ordinal   `json:"ordinal"`
	Kind    EventKind `json:"kind"`
	TokenID TokenID   `json:"token_id"`
	// From is the previous owner (transferred only)
	From *Identity `json:"from,omitempty"`
	// To is the minted owner or the transfer recipient
	To *Identity `json:"to,omitempty"`
	// Seller is set on listing_created and listing_cancelled
	Seller *Identity `json:"seller,omitempty"`
	// Buyer is set on item_bought
	Buyer *Identity `json:"buyer,omitempty"`
	// Price is set on listing_created and item_bought
	Price *Amount `json:"price,omitempty"`
	// Fee is the escrowed listing fee, set on listing_created
	Fee *Amount `json:"fee,omitempty"`
	// MetadataRef is set on minted
	MetadataRef *MetadataRef `json:"metadata_ref,omitempty"`
	// Timestamp is the commit time assigned by the sequencer
	Timestamp time.Time `json:"timestamp"`
}

// Valid checks structural validity of the event for its kind
func (e *Event) Valid() bool {
	switch e.Kind {
	case EventMinted:
		return e.To != nil && *e.To != ZeroIdentity && e.MetadataRef != nil && *e.MetadataRef != ""
	case EventTransferred:
		if e.From == nil || e.To == nil {
			return false
		}
		return *e.From != ZeroIdentity && *e.To != ZeroIdentity && *e.From != *e.To
	case EventListingCreated:
		return e.Seller != nil && *e.Seller != ZeroIdentity && e.Price != nil && *e.Price > 0 && e.Fee != nil
	case EventItemBought:
		return e.Buyer != nil && *e.Buyer != ZeroIdentity && e.Price != nil && *e.Price > 0
	case EventListingCancelled:
		return e.Seller != nil && *e.Seller != ZeroIdentity
	default:
		return false
	}
}

// IdentityPtr returns a pointer to a copy of id
func IdentityPtr(id Identity) *Identity {
	return &id
}

// AmountPtr returns a pointer to a copy of a
func AmountPtr(a Amount) *Amount {
	return &a
}

// MetadataRefPtr returns a pointer to a copy of r
func MetadataRefPtr(r MetadataRef) *MetadataRef {
	return &r
}
