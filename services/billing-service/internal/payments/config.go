// Package payments holds the clinic's payment policy and fee arithmetic.
package payments

import (
	"fmt"

	"github.com/novadent/platform/libs/config"
)

// Config is the payment policy applied to every reservation checkout.
// Amounts are integer cents and the tax rate is in basis points, so fee
// math never touches floating point.
type Config struct {
	ReservationFeeCents int64
	TaxRateBasisPoints  int64
	Currency            string
	EnableOnlinePayment bool
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		ReservationFeeCents: int64(config.Int("RESERVATION_FEE_CENTS", 2500)),
		TaxRateBasisPoints:  int64(config.Int("TAX_RATE_BASIS_POINTS", 0)),
		Currency:            config.String("PAYMENT_CURRENCY", "usd"),
		EnableOnlinePayment: config.Bool("ENABLE_ONLINE_PAYMENT", true),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.ReservationFeeCents < 0 {
		return fmt.Errorf("reservation fee must not be negative, got %d", c.ReservationFeeCents)
	}
	if c.TaxRateBasisPoints < 0 || c.TaxRateBasisPoints > 10000 {
		return fmt.Errorf("tax rate must be between 0 and 10000 basis points, got %d", c.TaxRateBasisPoints)
	}
	if c.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	return nil
}

// TaxCents returns the tax on the reservation fee, rounded half up.
func (c Config) TaxCents() int64 {
	return (c.ReservationFeeCents*c.TaxRateBasisPoints + 5000) / 10000
}

// TotalCents is the amount actually charged at checkout.
func (c Config) TotalCents() int64 {
	return c.ReservationFeeCents + c.TaxCents()
}
