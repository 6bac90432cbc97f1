package events

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestBufferTruncate(t *testing.T) {
	var buf Buffer
	buf.Emit(RewardPaid{Pool: 1, Amount: big.NewInt(5)})
	mark := buf.Mark()
	buf.Emit(Withdraw{Pool: 1})
	buf.Emit(nil)
	if buf.Len() != 2 {
		t.Fatalf("expected 2 buffered events, got %d", buf.Len())
	}
	buf.Truncate(mark)
	drained := buf.Drain()
	if len(drained) != 1 || drained[0].EventType() != TypeFarmRewardPaid {
		t.Fatalf("unexpected drained events: %v", drained)
	}
	if buf.Len() != 0 {
		t.Fatalf("drain should empty the buffer")
	}
}

func TestDepositAttributes(t *testing.T) {
	user := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	evt := Deposit{Pool: 3, User: user, Amount: big.NewInt(10), Shares: nil}.Event()
	if evt.Attr("pool") != "3" || evt.Attr("shares") != "0" {
		t.Fatalf("unexpected attributes: %v", evt.Attributes)
	}
	if evt.Attr("user") != "0x00000000000000000000000000000000000000aa" {
		t.Fatalf("unexpected user attribute %q", evt.Attr("user"))
	}
	if _, ok := evt.Attributes["referrer"]; ok {
		t.Fatalf("zero referrer should be omitted")
	}
}

type recorder struct{ got []string }

func (r *recorder) Emit(e Event) { r.got = append(r.got, e.EventType()) }

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, nil, b}.Emit(NewDepositCap{Cap: big.NewInt(1)})
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Fatalf("expected both emitters to receive the event")
	}
}
