package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"unicode/utf8"
)

// recordDelimiter separates log records on disk
const recordDelimiter byte = '\n'

// CommandKind tags the mutation a command carries
type CommandKind string

const (
	SetCommand    CommandKind = "Set"
	RemoveCommand CommandKind = "Rm"
)

// Command represents a mutation persisted to the log. Value is only
// meaningful for set commands.
type Command struct {
	Kind  CommandKind
	Key   string
	Value string
}

// wireCommand is the on-disk shape of a command:
// {"cmd":"Set","params":["key","value"]} or {"cmd":"Rm","params":"key"}
type wireCommand struct {
	Cmd    CommandKind     `json:"cmd"`
	Params json.RawMessage `json:"params"`
}

var nullParams = []byte("null")

// NewSetCommand creates a command that sets key to value
func NewSetCommand(key, value string) Command {
	return Command{Kind: SetCommand, Key: key, Value: value}
}

// NewRemoveCommand creates a tombstone command for key
func NewRemoveCommand(key string) Command {
	return Command{Kind: RemoveCommand, Key: key}
}

// Encode encodes the command into a single newline free record
func (cmd Command) Encode() ([]byte, error) {
	var params interface{}

	switch cmd.Kind {
	case SetCommand:
		if !utf8.ValidString(cmd.Key) || !utf8.ValidString(cmd.Value) {
			return nil, ErrInvalidText
		}
		params = [2]string{cmd.Key, cmd.Value}
	case RemoveCommand:
		if !utf8.ValidString(cmd.Key) {
			return nil, ErrInvalidText
		}
		params = cmd.Key
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, cmd.Kind)
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	record, err := json.Marshal(wireCommand{Cmd: cmd.Kind, Params: rawParams})
	if err != nil {
		return nil, err
	}

	if bytes.IndexByte(record, recordDelimiter) >= 0 {
		return nil, ErrDelimiterInRecord
	}

	return record, nil
}

// DecodeCommand strictly decodes a record produced by Encode. The record must
// not include its delimiter.
func DecodeCommand(record []byte) (Command, error) {
	decoder := json.NewDecoder(bytes.NewReader(record))
	decoder.DisallowUnknownFields()

	var wire wireCommand
	if err := decoder.Decode(&wire); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	if _, err := decoder.Token(); err != io.EOF {
		return Command{}, fmt.Errorf("%w: trailing data after command", ErrInvalidCommand)
	}

	if len(wire.Params) == 0 || bytes.Equal(wire.Params, nullParams) {
		return Command{}, fmt.Errorf("%w: missing params", ErrInvalidCommand)
	}

	switch wire.Cmd {
	case SetCommand:
		var params []string
		if err := json.Unmarshal(wire.Params, &params); err != nil {
			return Command{}, fmt.Errorf("%w: set params: %v", ErrInvalidCommand, err)
		}
		if len(params) != 2 {
			return Command{}, fmt.Errorf("%w: set expects 2 params, got %d", ErrInvalidCommand, len(params))
		}
		return NewSetCommand(params[0], params[1]), nil

	case RemoveCommand:
		var key string
		if err := json.Unmarshal(wire.Params, &key); err != nil {
			return Command{}, fmt.Errorf("%w: rm params: %v", ErrInvalidCommand, err)
		}
		return NewRemoveCommand(key), nil
	}

	return Command{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, wire.Cmd)
}
