package domain

import "errors"

var (
	// ErrNodeUnavailable is returned when an RPC call times out or the node cannot be reached.
	ErrNodeUnavailable = errors.New("node unavailable")

	// ErrNoHealthyNodes is returned when the node pool has nothing to hand out.
	ErrNoHealthyNodes = errors.New("no healthy nodes")

	// ErrInsufficientQuorum is returned when fewer nodes than required agree on the chain head.
	ErrInsufficientQuorum = errors.New("insufficient node quorum")

	// ErrAlreadyCrawled signals that a height is already ingested. It is not a failure.
	ErrAlreadyCrawled = errors.New("height already crawled")

	// ErrMalformedExecutionResult is returned for RPC payloads that do not have the expected shape.
	ErrMalformedExecutionResult = errors.New("malformed execution result")

	// ErrAggregationInconsistency is returned when an era expected by the aggregation is missing.
	ErrAggregationInconsistency = errors.New("aggregation inconsistency")

	// ErrNotFound is returned by repositories when a row does not exist.
	ErrNotFound = errors.New("not found")
)
