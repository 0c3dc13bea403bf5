package book

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/openlob/itembook/pkg/custody"
	"github.com/openlob/itembook/pkg/settle"
)

// Ask is a resting sell order for one unique item at a minimum acceptable
// price. It owns the item's transfer authorization while it rests; the
// authorization is handed to settlement on a match or returned to the owner
// on cancellation.
type Ask struct {
	Price      uint64
	Auth       *custody.TransferAuth
	Owner      common.Address
	Commission *settle.Commission // cut taken out of proceeds, strictly below Price
}

// ItemID returns the identity of the item the ask is selling.
func (a *Ask) ItemID() custody.ItemID { return a.Auth.ItemID() }

// Bid is a resting buy order for any item in the book's collection, backed
// by escrowed funds for its whole lifetime. Offer is the escrowed price; a
// bid-side commission is an additional pre-escrowed cut, paid to its
// beneficiary when the bid executes and refunded in full on cancellation.
type Bid struct {
	Offer      uint64
	Owner      common.Address
	Commission *settle.Commission
}

// escrowed returns the total funds captured at placement.
func (b *Bid) escrowed() uint64 {
	if b.Commission == nil {
		return b.Offer
	}
	return b.Offer + b.Commission.Cut
}

// Level is one price level in a depth snapshot.
type Level struct {
	Price uint64 `json:"price"`
	Count int    `json:"count"`
}

// TradeEvent is emitted whenever a trade settles (inline or deferred
// finalize). Consumed by the API layer's websocket hub.
type TradeEvent struct {
	Book       common.Hash    `json:"book"`
	Collection string         `json:"collection"`
	Denom      string         `json:"denom"`
	ItemID     custody.ItemID `json:"item_id"`
	Price      uint64         `json:"price"`
	Buyer      common.Address `json:"buyer"`
	Seller     common.Address `json:"seller"`
	Deferred   bool           `json:"deferred"`
	Timestamp  int64          `json:"timestamp"`
}
