package ingest

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/vietddude/erawatcher/internal/core/domain"
	"github.com/vietddude/erawatcher/internal/infra/casper"
)

// StakeKind is the staking action a deploy performs.
type StakeKind string

const (
	StakeNone        StakeKind = ""
	StakeDelegate    StakeKind = "delegate"
	StakeUndelegate  StakeKind = "undelegate"
	StakeAddBid      StakeKind = "add_bid"
	StakeWithdrawBid StakeKind = "withdraw_bid"
)

// Increases reports whether the action adds to the staked amount.
func (k StakeKind) Increases() bool {
	return k == StakeDelegate || k == StakeAddBid
}

// Argument name sets identifying the staking calls. Order is irrelevant.
var (
	addBidArgs      = []string{"amount", "delegation_rate", "public_key"}
	withdrawBidArgs = []string{"amount", "public_key"}
	delegationArgs  = []string{"amount", "delegator", "validator"}
)

// Classify identifies a staking deploy by the exact set of its session
// argument names. Delegations are told apart from undelegations by the entry
// point, the arguments being the same.
func Classify(call casper.SessionCall) StakeKind {
	names := slices.Clone(call.ArgNames())
	slices.Sort(names)
	names = slices.Compact(names)

	switch {
	case slices.Equal(names, addBidArgs):
		return StakeAddBid
	case slices.Equal(names, withdrawBidArgs):
		return StakeWithdrawBid
	case slices.Equal(names, delegationArgs):
		if call.EntryPoint == "undelegate" {
			return StakeUndelegate
		}
		return StakeDelegate
	default:
		return StakeNone
	}
}

// StakeAmount returns the motes moved by a classified call.
func StakeAmount(call casper.SessionCall) (decimal.Decimal, error) {
	arg, ok := call.Arg("amount")
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no amount argument", domain.ErrMalformedExecutionResult)
	}
	s, err := arg.ParsedString()
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount: %v", domain.ErrMalformedExecutionResult, err)
	}
	amount, err := domain.ParseMotes(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrMalformedExecutionResult, err)
	}
	return amount, nil
}
