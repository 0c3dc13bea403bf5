package market

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openlob/itembook/pkg/book"
	"github.com/openlob/itembook/pkg/settle"
)

var (
	alice  = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob    = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	broker = common.HexToAddress("0xbbbb000000000000000000000000000000000003")
)

func newTestMarketplace(t *testing.T) *Marketplace {
	t.Helper()
	m, err := New(t.TempDir(), zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestCreateOrderBookDuplicatePair(t *testing.T) {
	m := newTestMarketplace(t)
	if _, err := m.CreateOrderBook("PUNKS", "USD"); err != nil {
		t.Fatalf("first CreateOrderBook: %v", err)
	}
	if _, err := m.CreateOrderBook("PUNKS", "USD"); err == nil {
		t.Fatal("expected duplicate pair to fail")
	}
	if _, err := m.CreateOrderBook("PUNKS", "EUR"); err != nil {
		t.Fatalf("same collection, new denom should register: %v", err)
	}
}

func TestDeferredTradeEndToEnd(t *testing.T) {
	m := newTestMarketplace(t)

	bookID, err := m.CreateOrderBook("PUNKS", "USD")
	if err != nil {
		t.Fatalf("CreateOrderBook: %v", err)
	}
	vaultID, err := m.CreateVault("PUNKS", alice)
	if err != nil {
		t.Fatalf("CreateVault: %v", err)
	}
	itemID, err := m.MintItem(vaultID, "punk-7804")
	if err != nil {
		t.Fatalf("MintItem: %v", err)
	}

	if err := m.Ledger().Deposit(bob, "USD", 120); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	comm := &settle.Commission{Beneficiary: broker, Cut: 10}
	if err := m.PlaceAsk(bookID, vaultID, alice, itemID, 100, comm); err != nil {
		t.Fatalf("PlaceAsk: %v", err)
	}

	recID, err := m.PlaceBid(bookID, bob, 100, nil)
	if err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if recID == (common.Hash{}) {
		t.Fatal("bid at the ask price should match, not rest")
	}

	item, err := m.Finalize(bookID, recID, vaultID)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if item.ID != itemID {
		t.Fatalf("finalized item = %s, want %s", item.ID.Hex(), itemID.Hex())
	}

	if got := m.Ledger().Balance(alice, "USD"); got != 90 {
		t.Errorf("seller balance = %d, want 90", got)
	}
	if got := m.Ledger().Balance(broker, "USD"); got != 10 {
		t.Errorf("broker balance = %d, want 10", got)
	}
	if got := m.Ledger().Balance(bob, "USD"); got != 20 {
		t.Errorf("buyer balance = %d, want 20", got)
	}

	inv := m.Inventory(bob)
	if len(inv) != 1 || inv[0].ID != itemID {
		t.Fatalf("buyer inventory = %v, want exactly the traded item", inv)
	}

	trades, err := m.RecentTrades(bookID, 10)
	if err != nil {
		t.Fatalf("RecentTrades: %v", err)
	}
	if len(trades) != 1 || !trades[0].Deferred || trades[0].Price != 100 {
		t.Fatalf("trade history = %+v, want one deferred trade at 100", trades)
	}

	// The record is consumed; a second finalize has nothing to act on.
	if _, err := m.Finalize(bookID, recID, vaultID); !errors.Is(err, book.ErrOrderNotFound) {
		t.Fatalf("second finalize err = %v, want ErrOrderNotFound", err)
	}
}

func TestInlineAskSettlement(t *testing.T) {
	m := newTestMarketplace(t)

	bookID, _ := m.CreateOrderBook("PUNKS", "USD")
	vaultID, _ := m.CreateVault("PUNKS", alice)
	itemID, _ := m.MintItem(vaultID, "punk-1")

	if err := m.Ledger().Deposit(bob, "USD", 150); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	recID, err := m.PlaceBid(bookID, bob, 150, nil)
	if err != nil {
		t.Fatalf("PlaceBid: %v", err)
	}
	if recID != (common.Hash{}) {
		t.Fatal("bid against an empty book should rest")
	}

	// Ask below the resting bid settles immediately at the ask's own price.
	if err := m.PlaceAsk(bookID, vaultID, alice, itemID, 100, nil); err != nil {
		t.Fatalf("PlaceAsk: %v", err)
	}

	if got := m.Ledger().Balance(alice, "USD"); got != 100 {
		t.Errorf("seller balance = %d, want 100", got)
	}
	if got := m.Ledger().Balance(bob, "USD"); got != 50 {
		t.Errorf("buyer residual = %d, want 50", got)
	}
	inv := m.Inventory(bob)
	if len(inv) != 1 || inv[0].ID != itemID {
		t.Fatalf("buyer inventory = %v, want the traded item", inv)
	}
}

func TestBuySpecificThroughMarketplace(t *testing.T) {
	m := newTestMarketplace(t)

	bookID, _ := m.CreateOrderBook("PUNKS", "USD")
	vaultID, _ := m.CreateVault("PUNKS", alice)
	first, _ := m.MintItem(vaultID, "punk-1")
	second, _ := m.MintItem(vaultID, "punk-2")

	if err := m.PlaceAsk(bookID, vaultID, alice, first, 100, nil); err != nil {
		t.Fatalf("PlaceAsk first: %v", err)
	}
	if err := m.PlaceAsk(bookID, vaultID, alice, second, 100, nil); err != nil {
		t.Fatalf("PlaceAsk second: %v", err)
	}

	if err := m.Ledger().Deposit(bob, "USD", 100); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	// Target the second listing, skipping the time-priority front.
	item, err := m.BuySpecific(bookID, bob, second, 100, vaultID)
	if err != nil {
		t.Fatalf("BuySpecific: %v", err)
	}
	if item.ID != second {
		t.Fatalf("bought %s, want %s", item.ID.Hex(), second.Hex())
	}

	b, _ := m.Book(bookID)
	asks, _ := b.Peek()
	if len(asks) != 1 || asks[0].Count != 1 {
		t.Fatalf("remaining depth = %+v, want one ask at 100", asks)
	}
}

func TestPlaceAskRequiresVaultOwner(t *testing.T) {
	m := newTestMarketplace(t)

	bookID, _ := m.CreateOrderBook("PUNKS", "USD")
	vaultID, _ := m.CreateVault("PUNKS", alice)
	itemID, _ := m.MintItem(vaultID, "punk-1")

	err := m.PlaceAsk(bookID, vaultID, bob, itemID, 100, nil)
	if !errors.Is(err, book.ErrOwnerMismatch) {
		t.Fatalf("err = %v, want ErrOwnerMismatch", err)
	}
}

func TestDepositItemRelist(t *testing.T) {
	m := newTestMarketplace(t)

	bookID, _ := m.CreateOrderBook("PUNKS", "USD")
	sellerVault, _ := m.CreateVault("PUNKS", alice)
	itemID, _ := m.MintItem(sellerVault, "punk-1")

	m.Ledger().Deposit(bob, "USD", 100)
	if err := m.PlaceAsk(bookID, sellerVault, alice, itemID, 100, nil); err != nil {
		t.Fatalf("PlaceAsk: %v", err)
	}
	if _, err := m.BuySpecific(bookID, bob, itemID, 100, sellerVault); err != nil {
		t.Fatalf("BuySpecific: %v", err)
	}

	// The buyer moves the delivered item into their own vault and lists it
	// again. A fresh authorization covers the new custody period.
	buyerVault, _ := m.CreateVault("PUNKS", bob)
	if err := m.DepositItem(buyerVault, bob, itemID); err != nil {
		t.Fatalf("DepositItem: %v", err)
	}
	if len(m.Inventory(bob)) != 0 {
		t.Fatal("item should leave the inventory on redeposit")
	}
	if err := m.PlaceAsk(bookID, buyerVault, bob, itemID, 200, nil); err != nil {
		t.Fatalf("relist: %v", err)
	}
}

func TestDepositItemErrors(t *testing.T) {
	m := newTestMarketplace(t)

	vaultID, _ := m.CreateVault("PUNKS", alice)
	itemID, _ := m.MintItem(vaultID, "punk-1")

	if err := m.DepositItem(vaultID, bob, itemID); !errors.Is(err, book.ErrOwnerMismatch) {
		t.Fatalf("foreign owner err = %v, want ErrOwnerMismatch", err)
	}
	if err := m.DepositItem(vaultID, alice, itemID); err == nil {
		t.Fatal("depositing an item the owner does not hold should fail")
	}
}

func TestSetActionClosesPublicSurface(t *testing.T) {
	m := newTestMarketplace(t)

	bookID, _ := m.CreateOrderBook("PUNKS", "USD")
	if err := m.SetAction(bookID, book.ActionPlaceBid, false); err != nil {
		t.Fatalf("SetAction: %v", err)
	}

	m.Ledger().Deposit(bob, "USD", 100)
	if _, err := m.PlaceBid(bookID, bob, 100, nil); !errors.Is(err, book.ErrActionNotPublic) {
		t.Fatalf("err = %v, want ErrActionNotPublic", err)
	}

	if err := m.SetAction(bookID, book.ActionPlaceBid, true); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := m.PlaceBid(bookID, bob, 100, nil); err != nil {
		t.Fatalf("bid after reopening gate: %v", err)
	}
}

func TestInventoryPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	m, err := New(dir, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	bookID, _ := m.CreateOrderBook("PUNKS", "USD")
	vaultID, _ := m.CreateVault("PUNKS", alice)
	itemID, _ := m.MintItem(vaultID, "punk-1")
	m.Ledger().Deposit(bob, "USD", 100)
	if err := m.PlaceAsk(bookID, vaultID, alice, itemID, 100, nil); err != nil {
		t.Fatalf("PlaceAsk: %v", err)
	}
	if _, err := m.BuySpecific(bookID, bob, itemID, 100, vaultID); err != nil {
		t.Fatalf("BuySpecific: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(dir, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	inv := reopened.Inventory(bob)
	if len(inv) != 1 || inv[0].ID != itemID {
		t.Fatalf("inventory after reopen = %v, want the delivered item", inv)
	}
	if got := reopened.Ledger().Balance(alice, "USD"); got != 100 {
		t.Errorf("seller balance after reopen = %d, want 100", got)
	}
}

func TestTradeFanOut(t *testing.T) {
	m := newTestMarketplace(t)

	var events []book.TradeEvent
	m.OnTrade = func(ev book.TradeEvent) { events = append(events, ev) }

	bookID, _ := m.CreateOrderBook("PUNKS", "USD")
	vaultID, _ := m.CreateVault("PUNKS", alice)
	itemID, _ := m.MintItem(vaultID, "punk-1")
	m.Ledger().Deposit(bob, "USD", 100)
	m.PlaceAsk(bookID, vaultID, alice, itemID, 100, nil)
	if _, err := m.BuySpecific(bookID, bob, itemID, 100, vaultID); err != nil {
		t.Fatalf("BuySpecific: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Buyer != bob || events[0].Seller != alice || events[0].ItemID != itemID {
		t.Fatalf("event = %+v", events[0])
	}
}
