package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnlockEntry is one row of the validator unlock schedule. Day counts from
// genesis; negative days are placeholders and never release supply.
type UnlockEntry struct {
	PublicKey string
	Day       int
	Timestamp time.Time
	// Amount is in motes.
	Amount decimal.Decimal
}
