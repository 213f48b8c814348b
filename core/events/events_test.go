package events

import (
	"math/big"
	"testing"

	"agora/crypto"
)

func TestTransferEventAttributes(t *testing.T) {
	from := [20]byte{0x01}
	to := [20]byte{0x02}
	evt := Transfer{From: from, To: to, Amount: big.NewInt(42)}.Event()
	if evt.Type != TypeTransfer {
		t.Fatalf("unexpected type %q", evt.Type)
	}
	if got := evt.Attr("amount"); got != "42" {
		t.Fatalf("unexpected amount %q", got)
	}
	want := crypto.MustNewAddress(crypto.AccountPrefix, from[:]).String()
	if got := evt.Attr("from"); got != want {
		t.Fatalf("unexpected from %q want %q", got, want)
	}
}

func TestInventoryTransferMintHasEmptyFrom(t *testing.T) {
	evt := InventoryTransfer{To: [20]byte{0x03}, LotID: 4, Quantity: 2}.Event()
	if evt.Attr("from") != "" {
		t.Fatalf("expected empty from for minted units")
	}
	if evt.Attr("lotId") != "4" || evt.Attr("quantity") != "2" {
		t.Fatalf("unexpected attributes %+v", evt.Attributes)
	}
}
