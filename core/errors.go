package core

import "errors"

var (
	// ErrKeyNotFound occurs when a key is not found in the data store
	ErrKeyNotFound = errors.New("key not found")

	// ErrEngineClosed occurs when an operation is attempted on a closed engine
	ErrEngineClosed = errors.New("storage engine closed")

	// ErrInvalidCommand occurs when a log record does not decode to a command
	ErrInvalidCommand = errors.New("invalid command record")

	// ErrDelimiterInRecord occurs when an encoded record would contain the
	// record delimiter
	ErrDelimiterInRecord = errors.New("record contains delimiter")

	// ErrInvalidText occurs when a key or value is not valid UTF-8 text
	ErrInvalidText = errors.New("key or value is not valid utf-8 text")

	// ErrRecordTooLarge occurs when a record exceeds the configured max record size
	ErrRecordTooLarge = errors.New("record too large")

	// ErrCorruptedLog occurs when replaying the log finds an inconsistent history
	ErrCorruptedLog = errors.New("log is corrupted")

	// ErrInvariantViolation occurs when an indexed offset does not hold the
	// live set record of its key
	ErrInvariantViolation = errors.New("index invariant violated")
)
