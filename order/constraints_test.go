package order

import "testing"

func TestSymbolConstraintsValidate(t *testing.T) {
	c := SymbolConstraints{
		PriceTick: 0.2,
		MinLots:   1,
		MaxLots:   100,
	}
	if err := c.Validate(4500.2, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Validate(4500.3, 10); err == nil {
		t.Fatalf("expected price tick error")
	}
	if err := c.Validate(4500.2, 0); err == nil {
		t.Fatalf("expected qty error")
	}
	if err := c.Validate(4500.2, 101); err == nil {
		t.Fatalf("expected max lots error")
	}
	if err := c.Validate(-1, 10); err == nil {
		t.Fatalf("expected price error")
	}
}

func TestAlignPrice(t *testing.T) {
	c := SymbolConstraints{PriceTick: 0.2}

	// 买向向下、卖向向上，对齐后不会更激进
	if got := c.AlignPrice(4500.3, SideBuy); got != 4500.2 {
		t.Fatalf("buy align: expected 4500.2, got %.4f", got)
	}
	if got := c.AlignPrice(4500.3, SideSell); got != 4500.4 {
		t.Fatalf("sell align: expected 4500.4, got %.4f", got)
	}
	if got := c.AlignPrice(4500.2, SideBuy); got != 4500.2 {
		t.Fatalf("aligned price unchanged, got %.4f", got)
	}
}
