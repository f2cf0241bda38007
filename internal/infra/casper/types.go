package casper

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BlockIdentifier selects a block by height or by hash.
type BlockIdentifier struct {
	Height *uint64 `json:"Height,omitempty"`
	Hash   string  `json:"Hash,omitempty"`
}

// Block is a block as returned by chain_get_block.
type Block struct {
	Hash   string      `json:"hash"`
	Header BlockHeader `json:"header"`
	Body   BlockBody   `json:"body"`
}

// BlockHeader holds the header fields the indexer reads.
type BlockHeader struct {
	Height        uint64    `json:"height"`
	EraID         uint64    `json:"era_id"`
	Timestamp     time.Time `json:"timestamp"`
	StateRootHash string    `json:"state_root_hash"`
	ParentHash    string    `json:"parent_hash"`
	EraEnd        *EraEnd   `json:"era_end"`
}

// IsSwitchBlock reports whether the header closes its era.
func (h BlockHeader) IsSwitchBlock() bool {
	return h.EraEnd != nil
}

// EraEnd is present only on switch blocks.
type EraEnd struct {
	NextEraValidatorWeights []ValidatorWeight `json:"next_era_validator_weights"`
}

// ValidatorWeight is one validator's weight in motes.
type ValidatorWeight struct {
	Validator string `json:"validator"`
	Weight    string `json:"weight"`
}

// BlockBody lists the deploys executed in a block.
type BlockBody struct {
	Proposer       string   `json:"proposer"`
	DeployHashes   []string `json:"deploy_hashes"`
	TransferHashes []string `json:"transfer_hashes"`
}

type getBlockResult struct {
	Block *Block `json:"block"`
}

// DeployInfo is the result of info_get_deploy.
type DeployInfo struct {
	Deploy           Deploy            `json:"deploy"`
	ExecutionResults []ExecutionResult `json:"execution_results"`
}

// Deploy is a signed deploy.
type Deploy struct {
	Hash    string                     `json:"hash"`
	Header  DeployHeader               `json:"header"`
	Session map[string]json.RawMessage `json:"session"`
}

// DeployHeader holds the sender and timing of a deploy.
type DeployHeader struct {
	// Account is the sender's public key hex.
	Account   string    `json:"account"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionCall is the executable part of a deploy, whatever its variant
// (ModuleBytes, StoredContractByHash, StoredVersionedContractByName, ...).
type SessionCall struct {
	Variant    string     `json:"-"`
	EntryPoint string     `json:"entry_point"`
	Args       []NamedArg `json:"args"`
}

// ArgNames returns the argument names in declaration order.
func (s SessionCall) ArgNames() []string {
	names := make([]string, len(s.Args))
	for i, a := range s.Args {
		names[i] = a.Name
	}
	return names
}

// Arg returns the argument with the given name.
func (s SessionCall) Arg(name string) (CLValue, bool) {
	for _, a := range s.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return CLValue{}, false
}

// SessionCall decodes the single session variant of the deploy.
func (d Deploy) SessionCall() (SessionCall, error) {
	if len(d.Session) != 1 {
		return SessionCall{}, fmt.Errorf("expected one session variant, got %d", len(d.Session))
	}
	var call SessionCall
	for variant, raw := range d.Session {
		// Transfer sessions carry args only.
		if err := json.Unmarshal(raw, &call); err != nil {
			return SessionCall{}, fmt.Errorf("decode %s session: %w", variant, err)
		}
		call.Variant = variant
	}
	return call, nil
}

// NamedArg is a [name, value] pair.
type NamedArg struct {
	Name  string
	Value CLValue
}

// UnmarshalJSON decodes the two-element array form.
func (a *NamedArg) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("named arg: expected 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &a.Name); err != nil {
		return fmt.Errorf("named arg name: %w", err)
	}
	if err := json.Unmarshal(pair[1], &a.Value); err != nil {
		return fmt.Errorf("named arg %s: %w", a.Name, err)
	}
	return nil
}

// MarshalJSON encodes the two-element array form.
func (a NamedArg) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{a.Name, a.Value})
}

// CLValue is a typed value with its serialized bytes and parsed JSON form.
type CLValue struct {
	CLType json.RawMessage `json:"cl_type"`
	Bytes  string          `json:"bytes"`
	Parsed json.RawMessage `json:"parsed"`
}

// ParsedString returns the parsed value when it is a JSON string. Big
// integers (U512 etc.) are always rendered as strings.
func (v CLValue) ParsedString() (string, error) {
	var s string
	if err := json.Unmarshal(v.Parsed, &s); err != nil {
		return "", fmt.Errorf("parsed value is not a string: %w", err)
	}
	return s, nil
}

// ExecutionResult is the outcome of a deploy in one block.
type ExecutionResult struct {
	BlockHash string           `json:"block_hash"`
	Result    ExecutionOutcome `json:"result"`
}

// ExecutionOutcome holds exactly one of Success or Failure.
type ExecutionOutcome struct {
	Success *ExecutionEffect `json:"Success"`
	Failure *ExecutionEffect `json:"Failure"`
}

// ExecutionEffect is the effect of an executed deploy.
type ExecutionEffect struct {
	Effect       Effect   `json:"effect"`
	Transfers    []string `json:"transfers"`
	Cost         string   `json:"cost"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// Effect lists global state transforms.
type Effect struct {
	Transforms []TransformEntry `json:"transforms"`
}

// TransformEntry is a transform applied to one key. Transform is either a
// bare string ("Identity") or a single-key object.
type TransformEntry struct {
	Key       string          `json:"key"`
	Transform json.RawMessage `json:"transform"`
}

// WriteTransfer decodes the transform when it is a WriteTransfer.
func (t TransformEntry) WriteTransfer() (*WriteTransfer, bool) {
	if len(t.Transform) == 0 || t.Transform[0] != '{' {
		return nil, false
	}
	var v struct {
		WriteTransfer *WriteTransfer `json:"WriteTransfer"`
	}
	if err := json.Unmarshal(t.Transform, &v); err != nil || v.WriteTransfer == nil {
		return nil, false
	}
	return v.WriteTransfer, true
}

// WriteTransfer is the record of a native transfer.
type WriteTransfer struct {
	DeployHash string  `json:"deploy_hash"`
	From       string  `json:"from"`
	To         *string `json:"to"`
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Amount     string  `json:"amount"`
	Gas        string  `json:"gas"`
	ID         *uint64 `json:"id"`
}

// MatchesKey compares transfer keys case-insensitively.
func MatchesKey(a, b string) bool {
	return strings.EqualFold(a, b)
}

// StoredValue is a global state value. Only the variants the indexer reads are decoded.
type StoredValue struct {
	CLValue *CLValue `json:"CLValue,omitempty"`
	EraInfo *EraInfo `json:"EraInfo,omitempty"`
}

type getItemResult struct {
	StoredValue StoredValue `json:"stored_value"`
}

// EraInfo carries the seigniorage allocations paid at a switch block.
type EraInfo struct {
	SeigniorageAllocations []SeigniorageAllocation `json:"seigniorage_allocations"`
}

// SeigniorageAllocation holds exactly one of Validator or Delegator.
type SeigniorageAllocation struct {
	Validator *ValidatorAllocation `json:"Validator,omitempty"`
	Delegator *DelegatorAllocation `json:"Delegator,omitempty"`
}

// ValidatorAllocation is a reward paid to a validator.
type ValidatorAllocation struct {
	ValidatorPublicKey string `json:"validator_public_key"`
	Amount             string `json:"amount"`
}

// DelegatorAllocation is a reward paid to a delegator.
type DelegatorAllocation struct {
	DelegatorPublicKey string `json:"delegator_public_key"`
	ValidatorPublicKey string `json:"validator_public_key"`
	Amount             string `json:"amount"`
}

// EraSummary is the result of chain_get_era_info_by_switch_block.
type EraSummary struct {
	BlockHash     string      `json:"block_hash"`
	EraID         uint64      `json:"era_id"`
	StateRootHash string      `json:"state_root_hash"`
	StoredValue   StoredValue `json:"stored_value"`
}

type eraInfoResult struct {
	EraSummary *EraSummary `json:"era_summary"`
}

// Peer is an entry of info_get_peers.
type Peer struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

// Host returns the peer address without its gossip port.
func (p Peer) Host() string {
	addr := p.Address
	if i := strings.LastIndex(addr, ":"); i > 0 {
		addr = addr[:i]
	}
	return strings.Trim(addr, "[]")
}

type getPeersResult struct {
	Peers []Peer `json:"peers"`
}
