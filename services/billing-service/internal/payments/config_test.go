package payments

import "testing"

func TestTaxAndTotal(t *testing.T) {
	tests := []struct {
		name      string
		fee       int64
		rateBP    int64
		wantTax   int64
		wantTotal int64
	}{
		{"no tax", 2500, 0, 0, 2500},
		{"flat ten percent", 2500, 1000, 250, 2750},
		{"rounds half up", 999, 825, 82, 1081},
		{"zero fee", 0, 1000, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{ReservationFeeCents: tt.fee, TaxRateBasisPoints: tt.rateBP, Currency: "usd"}
			if got := cfg.TaxCents(); got != tt.wantTax {
				t.Fatalf("TaxCents() = %d, want %d", got, tt.wantTax)
			}
			if got := cfg.TotalCents(); got != tt.wantTotal {
				t.Fatalf("TotalCents() = %d, want %d", got, tt.wantTotal)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := Config{ReservationFeeCents: 2500, TaxRateBasisPoints: 800, Currency: "usd"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	invalid := []Config{
		{ReservationFeeCents: -1, Currency: "usd"},
		{ReservationFeeCents: 100, TaxRateBasisPoints: 10001, Currency: "usd"},
		{ReservationFeeCents: 100, TaxRateBasisPoints: -5, Currency: "usd"},
		{ReservationFeeCents: 100},
	}
	for i, cfg := range invalid {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, cfg)
		}
	}
}
