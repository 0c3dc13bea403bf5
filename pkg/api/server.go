// Package api exposes the marketplace over REST and WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/openlob/itembook/pkg/book"
	"github.com/openlob/itembook/pkg/market"
	"github.com/openlob/itembook/pkg/settle"
)

// Server handles REST API and WebSocket connections
type Server struct {
	mkt    *market.Marketplace
	router *mux.Router
	hub    *Hub // WebSocket hub
	log    *zap.SugaredLogger
}

// NewServer creates a new API server and wires the marketplace's trade
// feed into the WebSocket hub.
func NewServer(mkt *market.Marketplace, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		mkt:    mkt,
		router: mux.NewRouter(),
		hub:    NewHub(logger),
		log:    logger,
	}
	mkt.OnTrade = s.broadcastTrade
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Book endpoints
	api.HandleFunc("/books", s.handleListBooks).Methods("GET")
	api.HandleFunc("/books", s.handleCreateBook).Methods("POST")
	api.HandleFunc("/books/{id}/depth", s.handleGetDepth).Methods("GET")
	api.HandleFunc("/books/{id}/trades", s.handleGetTrades).Methods("GET")
	api.HandleFunc("/books/{id}/deferred", s.handleGetDeferred).Methods("GET")
	api.HandleFunc("/books/{id}/gate", s.handleSetGate).Methods("POST")

	// Vault endpoints
	api.HandleFunc("/vaults", s.handleCreateVault).Methods("POST")
	api.HandleFunc("/vaults/{id}/items", s.handleMintItem).Methods("POST")
	api.HandleFunc("/vaults/{id}/items", s.handleListVaultItems).Methods("GET")
	api.HandleFunc("/vaults/{id}/deposit", s.handleDepositItem).Methods("POST")

	// Trading endpoints
	api.HandleFunc("/bids", s.handlePlaceBid).Methods("POST")
	api.HandleFunc("/bids/cancel", s.handleCancelBid).Methods("POST")
	api.HandleFunc("/asks", s.handlePlaceAsk).Methods("POST")
	api.HandleFunc("/asks/cancel", s.handleCancelAsk).Methods("POST")
	api.HandleFunc("/buy", s.handleBuySpecific).Methods("POST")
	api.HandleFunc("/finalize", s.handleFinalize).Methods("POST")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/balances/{denom}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{address}/inventory", s.handleGetInventory).Methods("GET")
	api.HandleFunc("/accounts/{address}/deposit", s.handleDepositFunds).Methods("POST")
	api.HandleFunc("/accounts/{address}/withdraw", s.handleWithdrawFunds).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	// Start WebSocket hub
	go s.hub.Run()

	// CORS configuration
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// Book Handlers
// ==============================

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books := s.mkt.ListBooks()

	response := make([]BookInfo, len(books))
	for i, b := range books {
		response[i] = BookInfo{
			ID:         b.ID.Hex(),
			Collection: b.Collection,
			Denom:      b.Denom,
			Symbol:     b.Collection + "/" + b.Denom,
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Collection == "" || req.Denom == "" {
		respondError(w, http.StatusBadRequest, "collection and denom are required", "")
		return
	}

	id, err := s.mkt.CreateOrderBook(req.Collection, req.Denom)
	if err != nil {
		respondError(w, http.StatusConflict, "failed to create book", err.Error())
		return
	}
	respondJSON(w, BookInfo{
		ID:         id.Hex(),
		Collection: req.Collection,
		Denom:      req.Denom,
		Symbol:     req.Collection + "/" + req.Denom,
	})
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	b, err := s.mkt.Book(common.HexToHash(mux.Vars(r)["id"]))
	if err != nil {
		respondError(w, http.StatusNotFound, "book not found", err.Error())
		return
	}

	asks, bids := b.Peek()
	respondJSON(w, DepthSnapshot{
		BookID:    b.ID().Hex(),
		Bids:      toPriceLevels(bids),
		Asks:      toPriceLevels(asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	bookID := common.HexToHash(mux.Vars(r)["id"])

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	trades, err := s.mkt.RecentTrades(bookID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load trades", err.Error())
		return
	}

	response := make([]TradeInfo, len(trades))
	for i, ev := range trades {
		response[i] = TradeInfo{
			BookID:    ev.Book.Hex(),
			ItemID:    ev.ItemID.Hex(),
			Price:     ev.Price,
			Buyer:     ev.Buyer.Hex(),
			Seller:    ev.Seller.Hex(),
			Deferred:  ev.Deferred,
			Timestamp: ev.Timestamp,
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetDeferred(w http.ResponseWriter, r *http.Request) {
	b, err := s.mkt.Book(common.HexToHash(mux.Vars(r)["id"]))
	if err != nil {
		respondError(w, http.StatusNotFound, "book not found", err.Error())
		return
	}

	records := b.DeferredTrades()
	response := make([]DeferredInfo, len(records))
	for i, rec := range records {
		response[i] = DeferredInfo{
			ID:       rec.ID.Hex(),
			ItemID:   rec.ItemID().Hex(),
			VaultID:  rec.VaultID().Hex(),
			Payment:  rec.Payment,
			AskPrice: rec.AskPrice,
			Buyer:    rec.Buyer.Hex(),
			Seller:   rec.Seller.Hex(),
		}
	}
	respondJSON(w, response)
}

// handleSetGate flips one action's public availability. The daemon holds
// the book capability, so this is the operator's gate-control surface.
func (s *Server) handleSetGate(w http.ResponseWriter, r *http.Request) {
	var req SetGateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	action, ok := actionByName(req.Action)
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown action", req.Action)
		return
	}
	if err := s.mkt.SetAction(common.HexToHash(mux.Vars(r)["id"]), action, req.Public); err != nil {
		respondError(w, http.StatusNotFound, "failed to toggle gate", err.Error())
		return
	}
	respondJSON(w, map[string]interface{}{"action": action.String(), "public": req.Public})
}

// ==============================
// Vault Handlers
// ==============================

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	var req CreateVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Collection == "" || !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "collection and a valid owner address are required", "")
		return
	}

	id, err := s.mkt.CreateVault(req.Collection, common.HexToAddress(req.Owner))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create vault", err.Error())
		return
	}
	respondJSON(w, map[string]string{"vaultId": id.Hex()})
}

func (s *Server) handleMintItem(w http.ResponseWriter, r *http.Request) {
	var req MintItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", "")
		return
	}

	itemID, err := s.mkt.MintItem(common.HexToHash(mux.Vars(r)["id"]), req.Name)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to mint item", err.Error())
		return
	}
	respondJSON(w, map[string]string{"itemId": itemID.Hex()})
}

func (s *Server) handleListVaultItems(w http.ResponseWriter, r *http.Request) {
	v, err := s.mkt.Vault(common.HexToHash(mux.Vars(r)["id"]))
	if err != nil {
		respondError(w, http.StatusNotFound, "vault not found", err.Error())
		return
	}

	items := v.Items()
	response := make([]ItemInfo, len(items))
	for i, id := range items {
		response[i] = ItemInfo{ID: id.Hex(), Collection: v.Collection()}
	}
	respondJSON(w, response)
}

func (s *Server) handleDepositItem(w http.ResponseWriter, r *http.Request) {
	var req DepositItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Owner) {
		respondError(w, http.StatusBadRequest, "invalid owner address", "")
		return
	}

	err := s.mkt.DepositItem(
		common.HexToHash(mux.Vars(r)["id"]),
		common.HexToAddress(req.Owner),
		common.HexToHash(req.ItemID),
	)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to deposit item", err.Error())
		return
	}
	respondJSON(w, map[string]string{"status": "deposited"})
}

// ==============================
// Trading Handlers
// ==============================

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Buyer) {
		respondError(w, http.StatusBadRequest, "invalid buyer address", "")
		return
	}

	recID, err := s.mkt.PlaceBid(
		common.HexToHash(req.BookID),
		common.HexToAddress(req.Buyer),
		req.Price,
		toCommission(req.Commission),
	)
	if err != nil {
		respondTradeError(w, err)
		return
	}

	if recID == (common.Hash{}) {
		respondJSON(w, PlaceBidResponse{Status: "rested"})
		return
	}
	respondJSON(w, PlaceBidResponse{Status: "matched", RecordID: recID.Hex()})
}

func (s *Server) handleCancelBid(w http.ResponseWriter, r *http.Request) {
	var req CancelBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Caller) {
		respondError(w, http.StatusBadRequest, "invalid caller address", "")
		return
	}

	err := s.mkt.CancelBid(common.HexToHash(req.BookID), common.HexToAddress(req.Caller), req.Price)
	if err != nil {
		respondTradeError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handlePlaceAsk(w http.ResponseWriter, r *http.Request) {
	var req PlaceAskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Seller) {
		respondError(w, http.StatusBadRequest, "invalid seller address", "")
		return
	}

	err := s.mkt.PlaceAsk(
		common.HexToHash(req.BookID),
		common.HexToHash(req.VaultID),
		common.HexToAddress(req.Seller),
		common.HexToHash(req.ItemID),
		req.Price,
		toCommission(req.Commission),
	)
	if err != nil {
		respondTradeError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "submitted"})
}

func (s *Server) handleCancelAsk(w http.ResponseWriter, r *http.Request) {
	var req CancelAskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Caller) {
		respondError(w, http.StatusBadRequest, "invalid caller address", "")
		return
	}

	err := s.mkt.CancelAsk(
		common.HexToHash(req.BookID),
		common.HexToAddress(req.Caller),
		req.Price,
		common.HexToHash(req.ItemID),
	)
	if err != nil {
		respondTradeError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handleBuySpecific(w http.ResponseWriter, r *http.Request) {
	var req BuySpecificRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.Buyer) {
		respondError(w, http.StatusBadRequest, "invalid buyer address", "")
		return
	}

	item, err := s.mkt.BuySpecific(
		common.HexToHash(req.BookID),
		common.HexToAddress(req.Buyer),
		common.HexToHash(req.ItemID),
		req.Price,
		common.HexToHash(req.VaultID),
	)
	if err != nil {
		respondTradeError(w, err)
		return
	}
	respondJSON(w, ItemInfo{ID: item.ID.Hex(), Collection: item.Collection})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	item, err := s.mkt.Finalize(
		common.HexToHash(req.BookID),
		common.HexToHash(req.RecordID),
		common.HexToHash(req.VaultID),
	)
	if err != nil {
		respondTradeError(w, err)
		return
	}
	respondJSON(w, ItemInfo{ID: item.ID.Hex(), Collection: item.Collection})
}

// ==============================
// Account Handlers
// ==============================

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["address"]) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(vars["address"])
	denom := vars["denom"]

	respondJSON(w, BalanceInfo{
		Address: addr.Hex(),
		Denom:   denom,
		Balance: s.mkt.Ledger().Balance(addr, denom),
	})
}

func (s *Server) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["address"]) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}

	items := s.mkt.Inventory(common.HexToAddress(vars["address"]))
	response := make([]ItemInfo, len(items))
	for i, item := range items {
		response[i] = ItemInfo{ID: item.ID.Hex(), Collection: item.Collection}
	}
	respondJSON(w, response)
}

func (s *Server) handleDepositFunds(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["address"]) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}

	var req DepositFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Denom == "" || req.Amount == 0 {
		respondError(w, http.StatusBadRequest, "denom and a positive amount are required", "")
		return
	}

	addr := common.HexToAddress(vars["address"])
	if err := s.mkt.Ledger().Deposit(addr, req.Denom, req.Amount); err != nil {
		respondError(w, http.StatusBadRequest, "failed to deposit", err.Error())
		return
	}
	respondJSON(w, BalanceInfo{
		Address: addr.Hex(),
		Denom:   req.Denom,
		Balance: s.mkt.Ledger().Balance(addr, req.Denom),
	})
}

func (s *Server) handleWithdrawFunds(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["address"]) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}

	var req DepositFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Denom == "" || req.Amount == 0 {
		respondError(w, http.StatusBadRequest, "denom and a positive amount are required", "")
		return
	}

	addr := common.HexToAddress(vars["address"])
	if err := s.mkt.Ledger().Withdraw(addr, req.Denom, req.Amount); err != nil {
		respondError(w, http.StatusBadRequest, "failed to withdraw", err.Error())
		return
	}
	respondJSON(w, BalanceInfo{
		Address: addr.Hex(),
		Denom:   req.Denom,
		Balance: s.mkt.Ledger().Balance(addr, req.Denom),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods
// ==============================

// broadcastTrade fans a settled trade out to subscribed WebSocket clients
// along with the book's fresh depth snapshot.
func (s *Server) broadcastTrade(ev book.TradeEvent) {
	symbol := ev.Collection + "/" + ev.Denom

	s.hub.BroadcastToChannel("trades:"+symbol, TradeUpdate{
		Type:      "trade",
		Symbol:    symbol,
		ItemID:    ev.ItemID.Hex(),
		Price:     ev.Price,
		Buyer:     ev.Buyer.Hex(),
		Seller:    ev.Seller.Hex(),
		Deferred:  ev.Deferred,
		Timestamp: ev.Timestamp,
	})

	b, err := s.mkt.Book(ev.Book)
	if err != nil {
		return
	}
	asks, bids := b.Peek()
	s.hub.BroadcastToChannel("depth:"+symbol, DepthUpdate{
		Type:      "depth",
		Symbol:    symbol,
		Bids:      toPriceLevels(bids),
		Asks:      toPriceLevels(asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

// ==============================
// Helper Functions
// ==============================

func toPriceLevels(levels []book.Level) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, lvl := range levels {
		out[i] = PriceLevel{Price: lvl.Price, Count: lvl.Count}
	}
	return out
}

func actionByName(name string) (book.Action, bool) {
	for _, a := range []book.Action{
		book.ActionPlaceBid,
		book.ActionCancelBid,
		book.ActionPlaceAsk,
		book.ActionCancelAsk,
		book.ActionBuySpecific,
	} {
		if a.String() == name {
			return a, true
		}
	}
	return 0, false
}

func toCommission(spec *CommissionSpec) *settle.Commission {
	if spec == nil {
		return nil
	}
	return &settle.Commission{
		Beneficiary: common.HexToAddress(spec.Beneficiary),
		Cut:         spec.Cut,
	}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondTradeError maps engine errors onto HTTP status codes.
func respondTradeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, book.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, book.ErrOwnerMismatch), errors.Is(err, book.ErrActionNotPublic):
		status = http.StatusForbidden
	}
	respondError(w, status, "trade rejected", err.Error())
}
