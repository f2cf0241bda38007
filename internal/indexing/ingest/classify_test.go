package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/erawatcher/internal/core/domain"
	"github.com/vietddude/erawatcher/internal/infra/casper"
)

func call(entryPoint string, names ...string) casper.SessionCall {
	c := casper.SessionCall{EntryPoint: entryPoint}
	for _, n := range names {
		c.Args = append(c.Args, arg(n, "1"))
	}
	return c
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		call casper.SessionCall
		want StakeKind
	}{
		{"add bid", call("add_bid", "public_key", "amount", "delegation_rate"), StakeAddBid},
		{"add bid any order", call("", "delegation_rate", "public_key", "amount"), StakeAddBid},
		{"withdraw bid", call("withdraw_bid", "amount", "public_key"), StakeWithdrawBid},
		{"delegate", call("delegate", "delegator", "validator", "amount"), StakeDelegate},
		{"delegate from module bytes", call("", "validator", "amount", "delegator"), StakeDelegate},
		{"undelegate", call("undelegate", "validator", "amount", "delegator"), StakeUndelegate},
		{"extra argument", call("delegate", "delegator", "validator", "amount", "new_validator"), StakeNone},
		{"missing argument", call("delegate", "delegator", "amount"), StakeNone},
		{"transfer", call("", "amount", "target", "id"), StakeNone},
		{"no args", call("call"), StakeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.call))
		})
	}
}

func TestStakeKind_Increases(t *testing.T) {
	assert.True(t, StakeDelegate.Increases())
	assert.True(t, StakeAddBid.Increases())
	assert.False(t, StakeUndelegate.Increases())
	assert.False(t, StakeWithdrawBid.Increases())
}

func TestStakeAmount(t *testing.T) {
	c := casper.SessionCall{Args: []casper.NamedArg{arg("amount", "2500000000")}}
	amount, err := StakeAmount(c)
	require.NoError(t, err)
	assert.Equal(t, int64(2), domain.Denominate(amount))

	_, err = StakeAmount(casper.SessionCall{})
	assert.ErrorIs(t, err, domain.ErrMalformedExecutionResult)

	_, err = StakeAmount(casper.SessionCall{Args: []casper.NamedArg{arg("amount", "1.5")}})
	assert.ErrorIs(t, err, domain.ErrMalformedExecutionResult)
}
