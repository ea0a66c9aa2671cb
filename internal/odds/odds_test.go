package odds

import (
	"testing"

	"pinchmarket/internal/model"
)

func pos(agent string, side model.Side, amount int64) model.Position {
	return model.Position{AgentID: agent, Side: side, Amount: amount}
}

func TestComputeEmptyIsEvenPrior(t *testing.T) {
	q := Compute(nil)
	if q.Yes != 50 || q.No != 50 {
		t.Fatalf("expected 50/50, got %d/%d", q.Yes, q.No)
	}
}

func TestComputePricesOpposingShare(t *testing.T) {
	// 300 on yes, 900 on no: yes is the cheap side to back? No — yes price
	// reflects the no-pool share: 900/1200 = 75.
	q := Compute([]model.Position{
		pos("a", model.SideYes, 300),
		pos("b", model.SideNo, 900),
	})
	if q.Yes != 75 {
		t.Fatalf("expected yes=75, got %d", q.Yes)
	}
	if q.No != 25 {
		t.Fatalf("expected no=25, got %d", q.No)
	}
}

func TestComputeOneSidedMarket(t *testing.T) {
	q := Compute([]model.Position{pos("a", model.SideYes, 500)})
	if q.Yes != 0 || q.No != 100 {
		t.Fatalf("expected 0/100, got %d/%d", q.Yes, q.No)
	}
}

func TestComputeBounds(t *testing.T) {
	cases := [][]model.Position{
		nil,
		{pos("a", model.SideYes, 1)},
		{pos("a", model.SideNo, 1)},
		{pos("a", model.SideYes, 1), pos("b", model.SideNo, 2)},
		{pos("a", model.SideYes, 999999), pos("b", model.SideNo, 1)},
		{pos("a", model.SideYes, 333), pos("b", model.SideNo, 667)},
	}
	for i, positions := range cases {
		q := Compute(positions)
		if q.Yes < 0 || q.Yes > 100 || q.No < 0 || q.No > 100 {
			t.Fatalf("case %d: out of bounds: %d/%d", i, q.Yes, q.No)
		}
	}
}

func TestComputeDeterministic(t *testing.T) {
	positions := []model.Position{
		pos("a", model.SideYes, 123),
		pos("b", model.SideNo, 456),
		pos("c", model.SideYes, 789),
	}
	first := Compute(positions)
	for i := 0; i < 10; i++ {
		if got := Compute(positions); got != first {
			t.Fatalf("run %d: got %v, want %v", i, got, first)
		}
	}
}

func TestComputeRoundingDriftAllowed(t *testing.T) {
	// 1 vs 2: yes = round(2/3*100) = 67, no = round(1/3*100) = 33.
	// Independently rounded sides summing to 100 here is coincidence, not
	// contract; both just need to be valid percentages.
	q := Compute([]model.Position{
		pos("a", model.SideYes, 1),
		pos("b", model.SideNo, 2),
	})
	if q.Yes != 67 || q.No != 33 {
		t.Fatalf("expected 67/33, got %d/%d", q.Yes, q.No)
	}
}

func TestEntrySelectsSide(t *testing.T) {
	q := model.Quote{Yes: 70, No: 30}
	if Entry(q, model.SideYes) != 70 {
		t.Fatal("expected yes entry 70")
	}
	if Entry(q, model.SideNo) != 30 {
		t.Fatal("expected no entry 30")
	}
}

func TestSettleWinnerTakesLosingPool(t *testing.T) {
	// One winner (300 yes) against one loser (900 no):
	// payout = 300 principal + 300/300*900 = 1200.
	credits := Settle([]model.Position{
		pos("winner", model.SideYes, 300),
		pos("loser", model.SideNo, 900),
	}, model.ResolveYes)
	if len(credits) != 1 {
		t.Fatalf("expected 1 credit, got %d", len(credits))
	}
	if credits[0].AgentID != "winner" || credits[0].Amount != 1200 {
		t.Fatalf("expected winner credited 1200, got %s %d", credits[0].AgentID, credits[0].Amount)
	}
}

func TestSettleProportionalShares(t *testing.T) {
	// Winners 100 and 300 split a 200 losing pool 1:3.
	credits := Settle([]model.Position{
		pos("w1", model.SideNo, 100),
		pos("w2", model.SideNo, 300),
		pos("l1", model.SideYes, 200),
	}, model.ResolveNo)
	if len(credits) != 2 {
		t.Fatalf("expected 2 credits, got %d", len(credits))
	}
	want := map[string]int64{"w1": 150, "w2": 450}
	for _, c := range credits {
		if c.Amount != want[c.AgentID] {
			t.Fatalf("%s: expected %d, got %d", c.AgentID, want[c.AgentID], c.Amount)
		}
	}
}

func TestSettleFloorDivision(t *testing.T) {
	// Losing pool 100 split across winners 3 and 7 (total 10):
	// shares floor to 30 and 70.
	credits := Settle([]model.Position{
		pos("w1", model.SideYes, 3),
		pos("w2", model.SideYes, 7),
		pos("l1", model.SideNo, 100),
	}, model.ResolveYes)
	want := map[string]int64{"w1": 33, "w2": 77}
	for _, c := range credits {
		if c.Amount != want[c.AgentID] {
			t.Fatalf("%s: expected %d, got %d", c.AgentID, want[c.AgentID], c.Amount)
		}
	}
}

func TestSettleInvalidRefundsEveryone(t *testing.T) {
	credits := Settle([]model.Position{
		pos("a", model.SideYes, 300),
		pos("b", model.SideNo, 900),
	}, model.ResolveInvalid)
	if len(credits) != 2 {
		t.Fatalf("expected 2 refunds, got %d", len(credits))
	}
	want := map[string]int64{"a": 300, "b": 900}
	for _, c := range credits {
		if c.Amount != want[c.AgentID] {
			t.Fatalf("%s: expected refund %d, got %d", c.AgentID, want[c.AgentID], c.Amount)
		}
	}
}

func TestSettleNoWinners(t *testing.T) {
	// Everyone bet no, market resolves yes: losing stakes stay debited.
	credits := Settle([]model.Position{
		pos("a", model.SideNo, 500),
	}, model.ResolveYes)
	if len(credits) != 0 {
		t.Fatalf("expected no credits, got %d", len(credits))
	}
}

func TestSettleNoLosers(t *testing.T) {
	// No opposing pool: winners just get principal back.
	credits := Settle([]model.Position{
		pos("a", model.SideYes, 500),
	}, model.ResolveYes)
	if len(credits) != 1 || credits[0].Amount != 500 {
		t.Fatalf("expected principal-only credit of 500, got %+v", credits)
	}
}
