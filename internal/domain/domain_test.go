package domain

import "testing"

func intp(v int) *int { return &v }

func TestRicherDivisionsDecide(t *testing.T) {
	withDivs := DrawResult{Divisions: []Division{{Division: "DIV 1", Match: "SIX CORRECT NUMBERS"}}}
	without := DrawResult{}

	if !Richer(withDivs, without) {
		t.Fatal("record with divisions should beat one without")
	}
	if Richer(without, withDivs) {
		t.Fatal("record without divisions must not replace one with them")
	}
}

func TestRicherFinancialsAndBonus(t *testing.T) {
	base := DrawResult{Divisions: []Division{{Division: "DIV 1"}}}

	fin := base
	fin.Financials = &Financials{TotalPool: "R10,000,000.00"}
	if !Richer(fin, base) {
		t.Fatal("new financials should win")
	}

	bonus := base
	bonus.BonusNumbers = []int{7}
	if !Richer(bonus, base) {
		t.Fatal("new bonus ball should win")
	}
}

func TestRicherWinnerCounts(t *testing.T) {
	partial := DrawResult{Divisions: []Division{
		{Division: "DIV 1"},
		{Division: "DIV 2"},
	}}
	full := DrawResult{Divisions: []Division{
		{Division: "DIV 1", Winners: intp(0)},
		{Division: "DIV 2", Winners: intp(31)},
	}}

	if !Richer(full, partial) {
		t.Fatal("more populated winner counts should win")
	}
	if Richer(partial, full) {
		t.Fatal("fewer winner counts must not win")
	}
}

func TestRicherTieKeepsExisting(t *testing.T) {
	a := DrawResult{Divisions: []Division{{Division: "DIV 1", Winners: intp(2)}}}
	b := DrawResult{Divisions: []Division{{Division: "DIV 1", Winners: intp(2)}}}

	if Richer(a, b) {
		t.Fatal("equal information must keep the existing record")
	}
}
