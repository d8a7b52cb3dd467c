package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord is returned for a line with too few fields
	ErrMalformedRecord = errors.New("malformed record")
	// ErrInvalidTemperature is returned when a temperature field is not a number
	ErrInvalidTemperature = errors.New("invalid temperature")
	// ErrFileRead is returned when a data file cannot be opened or read
	ErrFileRead = errors.New("file read error")
	// ErrUnknownExperiment is returned for an experiment index outside 1..20
	ErrUnknownExperiment = errors.New("unknown experiment")
	// ErrInterruptedWait is returned when a pool join is cut short by its context
	ErrInterruptedWait = errors.New("interrupted wait")
)

// RecordError describes a skipped input line.
// Kind is ErrMalformedRecord or ErrInvalidTemperature.
type RecordError struct {
	Line  int
	Value string
	Kind  error
	Err   error
}

func (e *RecordError) Error() string {
	msg := fmt.Sprintf("line %d: %v", e.Line, e.Kind)
	if e.Value != "" {
		msg += fmt.Sprintf(" %q", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is the record error's kind
func (e *RecordError) Is(target error) bool {
	return target == e.Kind
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// IsTransient returns false as a bad line stays bad
func (e *RecordError) IsTransient() bool {
	return false
}

// FileReadError wraps an I/O failure on one data file
type FileReadError struct {
	Path string
	Err  error
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Path, e.Err)
}

// Is matches ErrFileRead
func (e *FileReadError) Is(target error) bool {
	return target == ErrFileRead
}

func (e *FileReadError) Unwrap() error {
	return e.Err
}

// IsTransient returns true as I/O failures may not repeat on the next round
func (e *FileReadError) IsTransient() bool {
	return true
}
