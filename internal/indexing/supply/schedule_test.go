package supply

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/erawatcher/internal/core/domain"
)

func TestLoadSchedule(t *testing.T) {
	doc := `
unlocks:
  - public_key: 01aa
    day: 0
    timestamp: 2021-03-31T00:00:00Z
    amount: "1000000000000"
  - public_key: 01bb
    day: -1
    timestamp: 2021-03-31T00:00:00+02:00
    amount: "5"
`
	entries, err := LoadSchedule(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "01aa", entries[0].PublicKey)
	assert.Equal(t, 0, entries[0].Day)
	assert.True(t, domain.ToMotes(1_000).Equal(entries[0].Amount))
	assert.Equal(t, time.Date(2021, 3, 30, 22, 0, 0, 0, time.UTC), entries[1].Timestamp)
	assert.Equal(t, -1, entries[1].Day)
}

func TestLoadSchedule_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing key", "unlocks:\n  - day: 1\n    timestamp: 2021-03-31T00:00:00Z\n    amount: \"1\"\n"},
		{"bad timestamp", "unlocks:\n  - public_key: 01aa\n    timestamp: yesterday\n    amount: \"1\"\n"},
		{"bad amount", "unlocks:\n  - public_key: 01aa\n    timestamp: 2021-03-31T00:00:00Z\n    amount: lots\n"},
		{"negative amount", "unlocks:\n  - public_key: 01aa\n    timestamp: 2021-03-31T00:00:00Z\n    amount: \"-1\"\n"},
		{"not yaml", "unlocks: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSchedule(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}
