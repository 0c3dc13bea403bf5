package api

// API request/response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// BookInfo represents one trading pair's static configuration
type BookInfo struct {
	ID         string `json:"id"`         // Book id (hex hash)
	Collection string `json:"collection"` // e.g., "PUNKS"
	Denom      string `json:"denom"`      // e.g., "USD"
	Symbol     string `json:"symbol"`     // "PUNKS/USD"
}

// DepthSnapshot represents current order book depth
type DepthSnapshot struct {
	BookID    string       `json:"bookId"`
	Bids      []PriceLevel `json:"bids"`      // Sorted high to low
	Asks      []PriceLevel `json:"asks"`      // Sorted low to high
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// PriceLevel represents [price, order count] at one level. Every order
// carries exactly one unique item, so count is also the item count.
type PriceLevel struct {
	Price uint64 `json:"price"`
	Count int    `json:"count"`
}

// TradeInfo represents a settled trade
type TradeInfo struct {
	BookID    string `json:"bookId"`
	ItemID    string `json:"itemId"`
	Price     uint64 `json:"price"`
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
	Deferred  bool   `json:"deferred"` // Settled via a deferred record
	Timestamp int64  `json:"timestamp"`
}

// BalanceInfo represents one (address, denom) balance
type BalanceInfo struct {
	Address string `json:"address"`
	Denom   string `json:"denom"`
	Balance uint64 `json:"balance"`
}

// ItemInfo represents a unique item
type ItemInfo struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
}

// DeferredInfo represents an outstanding deferred trade record awaiting
// finalization
type DeferredInfo struct {
	ID       string `json:"id"`
	ItemID   string `json:"itemId"`
	VaultID  string `json:"vaultId"`
	Payment  uint64 `json:"payment"`  // Full bid escrow held by the record
	AskPrice uint64 `json:"askPrice"` // Settles at this price
	Buyer    string `json:"buyer"`
	Seller   string `json:"seller"`
}

// ==============================
// REST Request Types
// ==============================

// CommissionSpec is an optional commission attached to an order
type CommissionSpec struct {
	Beneficiary string `json:"beneficiary"`
	Cut         uint64 `json:"cut"`
}

// CreateBookRequest is the payload for POST /api/v1/books
type CreateBookRequest struct {
	Collection string `json:"collection"`
	Denom      string `json:"denom"`
}

// CreateVaultRequest is the payload for POST /api/v1/vaults
type CreateVaultRequest struct {
	Collection string `json:"collection"`
	Owner      string `json:"owner"`
}

// MintItemRequest is the payload for POST /api/v1/vaults/{id}/items
type MintItemRequest struct {
	Name string `json:"name"`
}

// DepositItemRequest is the payload for POST /api/v1/vaults/{id}/deposit
type DepositItemRequest struct {
	Owner  string `json:"owner"`
	ItemID string `json:"itemId"`
}

// PlaceBidRequest is the payload for POST /api/v1/bids
type PlaceBidRequest struct {
	BookID     string          `json:"bookId"`
	Buyer      string          `json:"buyer"`
	Price      uint64          `json:"price"`
	Commission *CommissionSpec `json:"commission,omitempty"`
}

// PlaceBidResponse reports whether the bid matched. A matched bid carries
// the deferred record id to finalize.
type PlaceBidResponse struct {
	Status   string `json:"status"` // "rested" | "matched"
	RecordID string `json:"recordId,omitempty"`
}

// CancelBidRequest is the payload for POST /api/v1/bids/cancel
type CancelBidRequest struct {
	BookID string `json:"bookId"`
	Caller string `json:"caller"`
	Price  uint64 `json:"price"`
}

// PlaceAskRequest is the payload for POST /api/v1/asks
type PlaceAskRequest struct {
	BookID     string          `json:"bookId"`
	VaultID    string          `json:"vaultId"`
	Seller     string          `json:"seller"`
	ItemID     string          `json:"itemId"`
	Price      uint64          `json:"price"`
	Commission *CommissionSpec `json:"commission,omitempty"`
}

// CancelAskRequest is the payload for POST /api/v1/asks/cancel
type CancelAskRequest struct {
	BookID string `json:"bookId"`
	Caller string `json:"caller"`
	Price  uint64 `json:"price"`
	ItemID string `json:"itemId"`
}

// BuySpecificRequest is the payload for POST /api/v1/buy
type BuySpecificRequest struct {
	BookID  string `json:"bookId"`
	Buyer   string `json:"buyer"`
	ItemID  string `json:"itemId"`
	Price   uint64 `json:"price"`
	VaultID string `json:"vaultId"`
}

// FinalizeRequest is the payload for POST /api/v1/finalize. Permissionless:
// any party holding the record id and vault id may complete the trade.
type FinalizeRequest struct {
	BookID   string `json:"bookId"`
	RecordID string `json:"recordId"`
	VaultID  string `json:"vaultId"`
}

// SetGateRequest is the payload for POST /api/v1/books/{id}/gate
type SetGateRequest struct {
	Action string `json:"action"` // "place_bid" | "cancel_bid" | "place_ask" | "cancel_ask" | "buy_specific"
	Public bool   `json:"public"`
}

// DepositFundsRequest is the payload for POST /api/v1/accounts/{address}/deposit
// and .../withdraw
type DepositFundsRequest struct {
	Denom  string `json:"denom"`
	Amount uint64 `json:"amount"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades:PUNKS/USD", "depth:PUNKS/USD"]
}

// TradeUpdate is broadcast when a trade settles
type TradeUpdate struct {
	Type      string `json:"type"` // "trade"
	Symbol    string `json:"symbol"`
	ItemID    string `json:"itemId"`
	Price     uint64 `json:"price"`
	Buyer     string `json:"buyer"`
	Seller    string `json:"seller"`
	Deferred  bool   `json:"deferred"`
	Timestamp int64  `json:"timestamp"`
}

// DepthUpdate is broadcast after every book mutation
type DepthUpdate struct {
	Type      string       `json:"type"` // "depth"
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"`
}
