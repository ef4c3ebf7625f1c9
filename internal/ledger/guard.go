package ledger

import "github.com/artista/market-ledger/internal/domain"

// Access predicates shared by the token registry and the marketplace
// ledger. They hold no state; callers translate a false result into the
// specific rejection of the operation at hand, never a generic
// "unauthorized".

// IsOwner reports whether caller currently owns the token
func IsOwner(token *domain.Token, caller domain.Identity) bool {
	return token != nil && token.Owner == caller
}

// IsApprovedOperator reports whether operator holds the token's single
// approval slot
func IsApprovedOperator(token *domain.Token, operator domain.Identity) bool {
	return token != nil && token.ApprovedOperator != nil && *token.ApprovedOperator == operator
}

// IsAdmin reports whether caller is the platform administrator
func IsAdmin(admin, caller domain.Identity) bool {
	return admin != domain.ZeroIdentity && admin == caller
}

// IsSeller reports whether caller created the item's current listing
func IsSeller(item *domain.MarketItem, caller domain.Identity) bool {
	return item != nil && item.Seller == caller
}
