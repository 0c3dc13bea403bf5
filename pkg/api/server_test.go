package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/openlob/itembook/pkg/market"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mkt, err := market.New(t.TempDir(), zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("market.New: %v", err)
	}
	t.Cleanup(func() { mkt.Close() })
	return NewServer(mkt, zap.NewNop().Sugar())
}

func doJSON(t *testing.T, s *Server, method, path string, body, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRESTTradingFlow(t *testing.T) {
	s := newTestServer(t)
	seller := "0x1111111111111111111111111111111111111111"
	buyer := "0x2222222222222222222222222222222222222222"

	var bookResp BookInfo
	rec := doJSON(t, s, http.MethodPost, "/api/v1/books",
		CreateBookRequest{Collection: "PUNKS", Denom: "USD"}, &bookResp)
	if rec.Code != http.StatusOK {
		t.Fatalf("create book: %d %s", rec.Code, rec.Body.String())
	}
	if bookResp.Symbol != "PUNKS/USD" {
		t.Fatalf("symbol = %q", bookResp.Symbol)
	}

	var vaultResp map[string]string
	rec = doJSON(t, s, http.MethodPost, "/api/v1/vaults",
		CreateVaultRequest{Collection: "PUNKS", Owner: seller}, &vaultResp)
	if rec.Code != http.StatusOK {
		t.Fatalf("create vault: %d %s", rec.Code, rec.Body.String())
	}
	vaultID := vaultResp["vaultId"]

	var mintResp map[string]string
	rec = doJSON(t, s, http.MethodPost, "/api/v1/vaults/"+vaultID+"/items",
		MintItemRequest{Name: "punk-7804"}, &mintResp)
	if rec.Code != http.StatusOK {
		t.Fatalf("mint item: %d %s", rec.Code, rec.Body.String())
	}
	itemID := mintResp["itemId"]

	var balResp BalanceInfo
	rec = doJSON(t, s, http.MethodPost, "/api/v1/accounts/"+buyer+"/deposit",
		DepositFundsRequest{Denom: "USD", Amount: 150}, &balResp)
	if rec.Code != http.StatusOK || balResp.Balance != 150 {
		t.Fatalf("deposit: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/asks", PlaceAskRequest{
		BookID: bookResp.ID, VaultID: vaultID, Seller: seller, ItemID: itemID, Price: 100,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("place ask: %d %s", rec.Code, rec.Body.String())
	}

	var depth DepthSnapshot
	doJSON(t, s, http.MethodGet, "/api/v1/books/"+bookResp.ID+"/depth", nil, &depth)
	if len(depth.Asks) != 1 || depth.Asks[0].Price != 100 {
		t.Fatalf("depth = %+v, want one ask at 100", depth)
	}

	var bought ItemInfo
	rec = doJSON(t, s, http.MethodPost, "/api/v1/buy", BuySpecificRequest{
		BookID: bookResp.ID, Buyer: buyer, ItemID: itemID, Price: 100, VaultID: vaultID,
	}, &bought)
	if rec.Code != http.StatusOK {
		t.Fatalf("buy: %d %s", rec.Code, rec.Body.String())
	}
	if bought.ID != itemID {
		t.Fatalf("bought %q, want %q", bought.ID, itemID)
	}

	doJSON(t, s, http.MethodGet, "/api/v1/accounts/"+seller+"/balances/USD", nil, &balResp)
	if balResp.Balance != 100 {
		t.Fatalf("seller balance = %d, want 100", balResp.Balance)
	}

	var inv []ItemInfo
	doJSON(t, s, http.MethodGet, "/api/v1/accounts/"+buyer+"/inventory", nil, &inv)
	if len(inv) != 1 || inv[0].ID != itemID {
		t.Fatalf("inventory = %+v, want the bought item", inv)
	}

	var trades []TradeInfo
	doJSON(t, s, http.MethodGet, "/api/v1/books/"+bookResp.ID+"/trades", nil, &trades)
	if len(trades) != 1 || trades[0].Price != 100 {
		t.Fatalf("trades = %+v, want one at 100", trades)
	}
}

func TestDeferredFlowOverREST(t *testing.T) {
	s := newTestServer(t)
	seller := "0x1111111111111111111111111111111111111111"
	buyer := "0x2222222222222222222222222222222222222222"

	var bookResp BookInfo
	doJSON(t, s, http.MethodPost, "/api/v1/books",
		CreateBookRequest{Collection: "APES", Denom: "USD"}, &bookResp)

	var vaultResp map[string]string
	doJSON(t, s, http.MethodPost, "/api/v1/vaults",
		CreateVaultRequest{Collection: "APES", Owner: seller}, &vaultResp)
	vaultID := vaultResp["vaultId"]

	var mintResp map[string]string
	doJSON(t, s, http.MethodPost, "/api/v1/vaults/"+vaultID+"/items",
		MintItemRequest{Name: "ape-1"}, &mintResp)
	itemID := mintResp["itemId"]

	doJSON(t, s, http.MethodPost, "/api/v1/accounts/"+buyer+"/deposit",
		DepositFundsRequest{Denom: "USD", Amount: 100}, nil)
	doJSON(t, s, http.MethodPost, "/api/v1/asks", PlaceAskRequest{
		BookID: bookResp.ID, VaultID: vaultID, Seller: seller, ItemID: itemID, Price: 100,
	}, nil)

	var bidResp PlaceBidResponse
	rec := doJSON(t, s, http.MethodPost, "/api/v1/bids", PlaceBidRequest{
		BookID: bookResp.ID, Buyer: buyer, Price: 100,
	}, &bidResp)
	if rec.Code != http.StatusOK || bidResp.Status != "matched" {
		t.Fatalf("bid: %d %s", rec.Code, rec.Body.String())
	}

	var deferred []DeferredInfo
	doJSON(t, s, http.MethodGet, "/api/v1/books/"+bookResp.ID+"/deferred", nil, &deferred)
	if len(deferred) != 1 || deferred[0].ID != bidResp.RecordID {
		t.Fatalf("deferred = %+v, want the matched record", deferred)
	}

	var item ItemInfo
	rec = doJSON(t, s, http.MethodPost, "/api/v1/finalize", FinalizeRequest{
		BookID: bookResp.ID, RecordID: bidResp.RecordID, VaultID: vaultID,
	}, &item)
	if rec.Code != http.StatusOK || item.ID != itemID {
		t.Fatalf("finalize: %d %s", rec.Code, rec.Body.String())
	}

	// Record consumed; finalizing again finds nothing.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/finalize", FinalizeRequest{
		BookID: bookResp.ID, RecordID: bidResp.RecordID, VaultID: vaultID,
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second finalize status = %d, want 404", rec.Code)
	}
}

func TestGateToggleOverREST(t *testing.T) {
	s := newTestServer(t)
	buyer := "0x2222222222222222222222222222222222222222"

	var bookResp BookInfo
	doJSON(t, s, http.MethodPost, "/api/v1/books",
		CreateBookRequest{Collection: "PUNKS", Denom: "USD"}, &bookResp)
	doJSON(t, s, http.MethodPost, "/api/v1/accounts/"+buyer+"/deposit",
		DepositFundsRequest{Denom: "USD", Amount: 100}, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/books/"+bookResp.ID+"/gate",
		SetGateRequest{Action: "place_bid", Public: false}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("gate toggle: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/bids", PlaceBidRequest{
		BookID: bookResp.ID, Buyer: buyer, Price: 50,
	}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("gated bid status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/books/"+bookResp.ID+"/gate",
		SetGateRequest{Action: "bogus", Public: true}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus action status = %d, want 400", rec.Code)
	}
}

func TestWithdrawOverREST(t *testing.T) {
	s := newTestServer(t)
	addr := "0x3333333333333333333333333333333333333333"

	doJSON(t, s, http.MethodPost, "/api/v1/accounts/"+addr+"/deposit",
		DepositFundsRequest{Denom: "USD", Amount: 100}, nil)

	var bal BalanceInfo
	rec := doJSON(t, s, http.MethodPost, "/api/v1/accounts/"+addr+"/withdraw",
		DepositFundsRequest{Denom: "USD", Amount: 40}, &bal)
	if rec.Code != http.StatusOK || bal.Balance != 60 {
		t.Fatalf("withdraw: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/accounts/"+addr+"/withdraw",
		DepositFundsRequest{Denom: "USD", Amount: 1000}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("overdraw status = %d, want 400", rec.Code)
	}
}

func TestInvalidAddressRejected(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/bids", PlaceBidRequest{
		BookID: "0xabc", Buyer: "not-an-address", Price: 100,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
