package supply

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/erawatcher/internal/core/domain"
)

type scheduleFile struct {
	Unlocks []struct {
		PublicKey string `yaml:"public_key"`
		Day       int    `yaml:"day"`
		Timestamp string `yaml:"timestamp"`
		// Amount is in motes, quoted to keep precision.
		Amount string `yaml:"amount"`
	} `yaml:"unlocks"`
}

// LoadSchedule parses a validator unlock schedule:
//
//	unlocks:
//	  - public_key: 01a3...
//	    day: 90
//	    timestamp: 2021-06-29T00:00:00Z
//	    amount: "1000000000000"
func LoadSchedule(r io.Reader) ([]*domain.UnlockEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}

	var f scheduleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}

	entries := make([]*domain.UnlockEntry, 0, len(f.Unlocks))
	for i, u := range f.Unlocks {
		if u.PublicKey == "" {
			return nil, fmt.Errorf("unlock %d: missing public_key", i)
		}
		ts, err := time.Parse(time.RFC3339, u.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("unlock %d: timestamp: %w", i, err)
		}
		amount, err := decimal.NewFromString(u.Amount)
		if err != nil {
			return nil, fmt.Errorf("unlock %d: amount: %w", i, err)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("unlock %d: negative amount %s", i, amount)
		}
		entries = append(entries, &domain.UnlockEntry{
			PublicKey: u.PublicKey,
			Day:       u.Day,
			Timestamp: ts.UTC(),
			Amount:    amount,
		})
	}
	return entries, nil
}
