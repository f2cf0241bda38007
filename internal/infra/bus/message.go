// Package bus carries the orchestrator/worker protocol.
//
// Messages are a closed set of variants. Each variant maps to the channel it
// travels on:
//
//	Register{WorkerID}              -> register
//	Assign{WorkerID, Height}        -> create:<workerId>
//	Control{WorkerID, Signal}       -> control
//	Ack{WorkerID, Height, OK=true}  -> done
//	Ack{WorkerID, Height, OK=false} -> error
package bus

import (
	"encoding/json"
	"fmt"
)

// Channel names.
const (
	ChannelRegister = "register"
	ChannelControl  = "control"
	ChannelDone     = "done"
	ChannelError    = "error"
)

// AssignChannel returns the channel a worker receives its heights on.
func AssignChannel(workerID string) string {
	return "create:" + workerID
}

// Signal is the payload of a Control message.
type Signal string

const (
	SignalStart    Signal = "start"
	SignalStop     Signal = "stop"
	SignalFinished Signal = "finished"
)

// Message is one of Register, Assign, Control or Ack.
type Message interface {
	// Channel returns the channel the message is published on.
	Channel() string
	kind() string
}

// Register announces a worker to the orchestrator.
type Register struct {
	WorkerID string `json:"worker_id"`
}

// Assign gives one height to one worker.
type Assign struct {
	WorkerID string `json:"worker_id"`
	Height   uint64 `json:"height"`
}

// Control is a start/stop broadcast from the orchestrator, or a finished
// report from a worker.
type Control struct {
	WorkerID string `json:"worker_id,omitempty"`
	Signal   Signal `json:"signal"`
}

// Ack reports the outcome of one height.
type Ack struct {
	WorkerID string `json:"worker_id"`
	Height   uint64 `json:"height"`
	OK       bool   `json:"ok"`
}

func (Register) Channel() string  { return ChannelRegister }
func (m Assign) Channel() string  { return AssignChannel(m.WorkerID) }
func (Control) Channel() string   { return ChannelControl }
func (m Ack) Channel() string {
	if m.OK {
		return ChannelDone
	}
	return ChannelError
}

func (Register) kind() string { return "register" }
func (Assign) kind() string   { return "assign" }
func (Control) kind() string  { return "control" }
func (Ack) kind() string      { return "ack" }

type envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Encode serializes a message into its wire envelope.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.kind(), err)
	}
	return json.Marshal(envelope{Kind: m.kind(), Data: data})
}

// Decode parses a wire envelope back into a message.
func Decode(payload []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var (
		m   Message
		err error
	)
	switch env.Kind {
	case "register":
		var v Register
		err = json.Unmarshal(env.Data, &v)
		m = v
	case "assign":
		var v Assign
		err = json.Unmarshal(env.Data, &v)
		m = v
	case "control":
		var v Control
		err = json.Unmarshal(env.Data, &v)
		m = v
	case "ack":
		var v Ack
		err = json.Unmarshal(env.Data, &v)
		m = v
	default:
		return nil, fmt.Errorf("unknown message kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Kind, err)
	}
	return m, nil
}
