package rest

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/artista/market-ledger/internal/api/middleware"
	"github.com/artista/market-ledger/internal/classifier"
	"github.com/artista/market-ledger/internal/domain"
	"github.com/artista/market-ledger/internal/ledger"
	"github.com/artista/market-ledger/internal/minter"
	"github.com/artista/market-ledger/internal/projector"
)

// Handler serves the REST API
type Handler struct {
	registry *ledger.TokenRegistry
	market   *ledger.MarketplaceLedger
	views    *projector.Projector
	minter   *minter.Minter
}

// NewHandler creates a new REST handler
func NewHandler(registry *ledger.TokenRegistry, market *ledger.MarketplaceLedger, views *projector.Projector, m *minter.Minter) *Handler {
	return &Handler{
		registry: registry,
		market:   market,
		views:    views,
		minter:   m,
	}
}

// tokenResponse is the wire form of a token
type tokenResponse struct {
	ID               string  `json:"id"`
	Owner            string  `json:"owner"`
	ApprovedOperator *string `json:"approved_operator,omitempty"`
	MetadataRef      string  `json:"metadata_ref"`
}

func newTokenResponse(token domain.Token) tokenResponse {
	resp := tokenResponse{
		ID:          token.ID.String(),
		Owner:       token.Owner.Hex(),
		MetadataRef: string(token.MetadataRef),
	}
	if token.ApprovedOperator != nil {
		operator := token.ApprovedOperator.Hex()
		resp.ApprovedOperator = &operator
	}
	return resp
}

// itemResponse is the wire form of a market item
type itemResponse struct {
	TokenID string `json:"token_id"`
	State   string `json:"state"`
	Seller  string `json:"seller,omitempty"`
	Buyer   string `json:"buyer,omitempty"`
	Price   uint64 `json:"price,omitempty"`
}

func newItemResponse(item domain.MarketItem) itemResponse {
	resp := itemResponse{
		TokenID: item.TokenID.String(),
		State:   string(item.State),
	}
	if item.State != domain.StateNotListed {
		resp.Seller = item.Seller.Hex()
		resp.Price = uint64(item.Price)
	}
	if item.State == domain.StateSold {
		resp.Buyer = item.Buyer.Hex()
	}
	return resp
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// MintToken handles POST /api/v1/tokens. The request is a multipart form
// with name, description and an image file; the image runs through the
// content gate before anything is pinned or minted.
func (h *Handler) MintToken(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		respondBadRequest(c, "Missing caller identity")
		return
	}

	name := c.PostForm("name")
	if name == "" {
		respondBadRequest(c, "name is required")
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		respondBadRequest(c, "image file is required", err.Error())
		return
	}
	if fileHeader.Size > classifier.MaxImageSize {
		respondWithError(c, http.StatusRequestEntityTooLarge, errCodeValidationFailed,
			"Image too large")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondBadRequest(c, "failed to open image", err.Error())
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, classifier.MaxImageSize+1))
	if err != nil {
		respondInternalError(c, err, "Failed to read image")
		return
	}

	token, err := h.minter.Mint(c.Request.Context(), minter.Request{
		Name:        name,
		Description: c.PostForm("description"),
		Image:       image,
	}, caller)
	if err != nil {
		switch {
		case errors.Is(err, classifier.ErrImageTooLarge):
			respondWithError(c, http.StatusRequestEntityTooLarge, errCodeValidationFailed, err.Error())
		case errors.Is(err, classifier.ErrUnsupportedFormat),
			errors.Is(err, classifier.ErrContentRejected):
			respondWithError(c, http.StatusUnprocessableEntity, errCodeValidationFailed, err.Error())
		default:
			respondLedgerError(c, err)
		}
		return
	}

	c.JSON(http.StatusCreated, newTokenResponse(token))
}

// GetToken handles GET /api/v1/tokens/:id
func (h *Handler) GetToken(c *gin.Context) {
	id, err := domain.ParseTokenID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid token id", err.Error())
		return
	}

	token, err := h.registry.GetToken(c.Request.Context(), id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(token))
}

// approveRequest is the body of POST /api/v1/tokens/:id/approve
type approveRequest struct {
	Operator string `json:"operator" binding:"required"`
}

// ApproveToken handles POST /api/v1/tokens/:id/approve
func (h *Handler) ApproveToken(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		respondBadRequest(c, "Missing caller identity")
		return
	}

	id, err := domain.ParseTokenID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid token id", err.Error())
		return
	}

	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}
	operator, ok := domain.ParseIdentity(req.Operator)
	if !ok {
		respondBadRequest(c, "Invalid operator address")
		return
	}

	if err := h.registry.Approve(c.Request.Context(), id, operator, caller); err != nil {
		respondLedgerError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// createListingRequest is the body of POST /api/v1/listings
type createListingRequest struct {
	TokenID string `json:"token_id" binding:"required"`
	Price   uint64 `json:"price"`
	Deposit uint64 `json:"deposit"`
}

// CreateListing handles POST /api/v1/listings
func (h *Handler) CreateListing(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		respondBadRequest(c, "Missing caller identity")
		return
	}

	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}
	id, err := domain.ParseTokenID(req.TokenID)
	if err != nil {
		respondBadRequest(c, "Invalid token id", err.Error())
		return
	}

	err = h.market.CreateListing(c.Request.Context(), id,
		domain.Amount(req.Price), domain.Amount(req.Deposit), caller)
	if err != nil {
		respondLedgerError(c, err)
		return
	}

	item, err := h.market.ItemOf(c.Request.Context(), id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newItemResponse(item))
}

// GetListing handles GET /api/v1/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	id, err := domain.ParseTokenID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid token id", err.Error())
		return
	}

	item, err := h.market.ItemOf(c.Request.Context(), id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, newItemResponse(item))
}

// buyRequest is the body of POST /api/v1/listings/:id/buy
type buyRequest struct {
	Payment uint64 `json:"payment"`
}

// BuyListing handles POST /api/v1/listings/:id/buy
func (h *Handler) BuyListing(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		respondBadRequest(c, "Missing caller identity")
		return
	}

	id, err := domain.ParseTokenID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid token id", err.Error())
		return
	}

	var req buyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}

	if err := h.market.Buy(c.Request.Context(), id, domain.Amount(req.Payment), caller); err != nil {
		respondLedgerError(c, err)
		return
	}

	item, err := h.market.ItemOf(c.Request.Context(), id)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, newItemResponse(item))
}

// DelistListing handles DELETE /api/v1/listings/:id
func (h *Handler) DelistListing(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		respondBadRequest(c, "Missing caller identity")
		return
	}

	id, err := domain.ParseTokenID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid token id", err.Error())
		return
	}

	if err := h.market.Delist(c.Request.Context(), id, caller); err != nil {
		respondLedgerError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetListingFee handles GET /api/v1/market/fee
func (h *Handler) GetListingFee(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"fee": uint64(h.market.CurrentFee(c.Request.Context()))})
}

// feeRequest is the body of PUT /api/v1/market/fee
type feeRequest struct {
	Amount uint64 `json:"amount"`
}

// SetListingFee handles PUT /api/v1/market/fee
func (h *Handler) SetListingFee(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		respondBadRequest(c, "Missing caller identity")
		return
	}

	var req feeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body", err.Error())
		return
	}

	if err := h.market.SetListingFee(c.Request.Context(), domain.Amount(req.Amount), caller); err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee": req.Amount})
}

// GetBalance handles GET /api/v1/market/balances/:address
func (h *Handler) GetBalance(c *gin.Context) {
	id, ok := domain.ParseIdentity(c.Param("address"))
	if !ok {
		respondBadRequest(c, "Invalid address")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": id.Hex(),
		"balance": uint64(h.market.BalanceOf(c.Request.Context(), id)),
	})
}

// AllListings handles GET /api/v1/views/listings
func (h *Handler) AllListings(c *gin.Context) {
	items, err := h.views.AllListings(c.Request.Context())
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// MyCreations handles GET /api/v1/views/creations
func (h *Handler) MyCreations(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		respondBadRequest(c, "Missing caller identity")
		return
	}

	items, err := h.views.MyCreations(c.Request.Context(), caller)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// BoughtByMe handles GET /api/v1/views/purchases
func (h *Handler) BoughtByMe(c *gin.Context) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		respondBadRequest(c, "Missing caller identity")
		return
	}

	items, err := h.views.BoughtByMe(c.Request.Context(), caller)
	if err != nil {
		respondLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}
