package custody

// OwnerCap grants its holder the right to deposit items into one specific
// vault and to mint transfer authorizations for them. Minted once when the
// vault is created, never expires, never consumed.
type OwnerCap struct {
	vaultID VaultID
}

// VaultID returns the vault this capability controls.
func (c OwnerCap) VaultID() VaultID { return c.vaultID }

// AuthKind is the strength of a transfer authorization.
type AuthKind uint8

const (
	// AuthOrdinary releases an item against any consumed receipt.
	AuthOrdinary AuthKind = iota
	// AuthExclusive additionally requires the receipt to carry at least one
	// payment entry and its originating book to be on the collection's
	// trading allow-list. This keeps the privileged release path from being
	// used to bypass proceeds splitting.
	AuthExclusive
)

func (k AuthKind) String() string {
	switch k {
	case AuthOrdinary:
		return "ordinary"
	case AuthExclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// TransferAuth is a single-use permission to move one specific item out of
// one specific vault. It carries the vault identity rather than a pointer,
// resolved by lookup at release time; once consumed by a successful release
// it can never be replayed, and releasing the item permanently invalidates
// every other authorization minted for it (the vault entry they reference is
// gone).
type TransferAuth struct {
	vaultID VaultID
	itemID  ItemID
	kind    AuthKind
	serial  uint64
	spent   bool
}

func (a *TransferAuth) VaultID() VaultID { return a.vaultID }
func (a *TransferAuth) ItemID() ItemID   { return a.itemID }
func (a *TransferAuth) Kind() AuthKind   { return a.kind }
func (a *TransferAuth) Spent() bool      { return a.spent }

// Item is one unique asset held in custody. Collection metadata schemas
// live outside the core; the identity and collection tag are all the
// marketplace needs.
type Item struct {
	ID         ItemID `json:"id"`
	Collection string `json:"collection"`
}
