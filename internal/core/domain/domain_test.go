package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMotes(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "integer", in: "5000000000", want: "5000000000"},
		{name: "zero", in: "0", want: "0"},
		{name: "huge", in: "123456789012345678901234567890", want: "123456789012345678901234567890"},
		{name: "negative", in: "-1", wantErr: true},
		{name: "fraction", in: "1.5", wantErr: true},
		{name: "garbage", in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMotes(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestDenominate(t *testing.T) {
	assert.Equal(t, int64(5), Denominate(decimal.RequireFromString("5000000000")))
	assert.Equal(t, int64(5), Denominate(decimal.RequireFromString("5999999999")))
	assert.Equal(t, int64(0), Denominate(decimal.RequireFromString("999999999")))
	assert.Equal(t, int64(10), Denominate(decimal.RequireFromString("10000000000")))
	assert.True(t, ToMotes(7).Equal(decimal.RequireFromString("7000000000")))
}

func TestEraCloseAndTotals(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	era := &Era{ID: 3, StartBlock: 100, Start: start}
	require.True(t, era.IsOpen())

	era.AddBlock(&Block{Staked: 10, Unstaked: 2, ValidatorsCount: 1})
	era.AddBlock(&Block{Staked: 5, ValidatorRewards: 7, DelegatorRewards: 3, DelegatorsCount: 4})
	assert.Equal(t, int64(15), era.Staked)
	assert.Equal(t, int64(2), era.Unstaked)
	assert.Equal(t, int64(7), era.ValidatorRewards)
	assert.Equal(t, 4, era.DelegatorsCount)

	next := start.Add(2 * time.Hour)
	era.Close(199, next)
	require.False(t, era.IsOpen())
	assert.Equal(t, uint64(199), *era.EndBlock)
	assert.Equal(t, next.Add(-time.Millisecond), *era.End)

	era.ResetTotals()
	assert.Zero(t, era.Staked)
	assert.Zero(t, era.DelegatorsCount)
}

func TestAccountHashFromPublicKey(t *testing.T) {
	key := "01" + "0000000000000000000000000000000000000000000000000000000000000000"
	h1, err := AccountHashFromPublicKey(key)
	require.NoError(t, err)
	assert.Contains(t, h1, AccountHashPrefix)
	assert.Len(t, h1, len(AccountHashPrefix)+64)

	h2, err := AccountHashFromPublicKey(key)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	other := "01" + "0000000000000000000000000000000000000000000000000000000000000001"
	h3, err := AccountHashFromPublicKey(other)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	_, err = AccountHashFromPublicKey("03aa")
	assert.Error(t, err)
	_, err = AccountHashFromPublicKey("01aa")
	assert.Error(t, err)
	_, err = AccountHashFromPublicKey("zz")
	assert.Error(t, err)
}

func TestNormalizeAccountHash(t *testing.T) {
	assert.Equal(t, "account-hash-abcd", NormalizeAccountHash("ABCD"))
	assert.Equal(t, "account-hash-abcd", NormalizeAccountHash("account-hash-ABCD"))
	assert.Equal(t, "", NormalizeAccountHash(" "))
}

func TestCanSeedDepth(t *testing.T) {
	assert.False(t, CanSeedDepth(0))
	assert.True(t, CanSeedDepth(1))
	assert.True(t, CanSeedDepth(2))
	assert.False(t, CanSeedDepth(3))
}
