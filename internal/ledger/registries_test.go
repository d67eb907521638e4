package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestPayerTopicLeftPadsAddress(t *testing.T) {
	payer := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	want := common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000bb")
	if got := payerTopic(payer); got != want {
		t.Fatalf("expected topic %s, got %s", want.Hex(), got.Hex())
	}

	payer = common.HexToAddress("0xDEADbeEF00000000000000000000000000000001")
	want = common.HexToHash("0x000000000000000000000000deadbeef00000000000000000000000000000001")
	if got := payerTopic(payer); got != want {
		t.Fatalf("expected topic %s, got %s", want.Hex(), got.Hex())
	}
}
