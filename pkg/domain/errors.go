package domain

import (
	"errors"
	"fmt"
)

// Registry errors.
var (
	// ErrUnknownCommand is returned when no transaction is registered under a command name.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrDuplicateCommand is returned when a command name is registered twice.
	ErrDuplicateCommand = errors.New("duplicate command")

	// ErrRegistryClosed is returned when registering after the engine started.
	ErrRegistryClosed = errors.New("registry closed")

	// ErrDuplicateProjection is returned when a view type is already bound.
	ErrDuplicateProjection = errors.New("duplicate projection")

	// ErrUnknownView is returned when querying a view type with no projection.
	ErrUnknownView = errors.New("unknown view")
)

// Transaction errors.
var (
	// ErrArgumentType is returned when an argument cannot be read as the requested type.
	ErrArgumentType = errors.New("argument type mismatch")

	// ErrNotFound is returned when an entity does not exist in the repository.
	ErrNotFound = errors.New("entity not found")

	// ErrEntityType is returned when a stored entity is not of the expected Go type.
	ErrEntityType = errors.New("entity type mismatch")

	// ErrTransactionFailed wraps any error raised by a transaction handler.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrConditionFailed is returned when a conditional command's guard rejects it.
	ErrConditionFailed = errors.New("command condition not met")

	// ErrNoIDPolicy is returned when a handler asks for an id the command never declared.
	ErrNoIDPolicy = errors.New("no id policy for entity type")
)

// Journal and lifecycle errors.
var (
	// ErrJournalWrite is returned when a record could not be made durable.
	ErrJournalWrite = errors.New("journal write failed")

	// ErrJournalClosed is returned when using a journal that is not open.
	ErrJournalClosed = errors.New("journal closed")

	// ErrJournalIndeterminate is returned when an append failed and the journal
	// could not tell whether the record landed. The journal refuses further
	// appends until it is reopened, which re-reads the durable tail.
	ErrJournalIndeterminate = errors.New("journal write outcome unknown")

	// ErrSequenceGap is returned when a record's sequence does not follow the last one.
	ErrSequenceGap = errors.New("journal sequence gap")

	// ErrCorruptJournal is returned when a journal holds an unreadable record that is not a torn tail.
	ErrCorruptJournal = errors.New("corrupt journal")

	// ErrRecovery is returned when the journal cannot be replayed into a consistent state.
	ErrRecovery = errors.New("recovery failed")

	// ErrEngineClosed is returned when the engine was already started or has been shut down.
	ErrEngineClosed = errors.New("engine closed")

	// ErrNotStarted is returned when the engine is used before Startup.
	ErrNotStarted = errors.New("engine not started")
)

// ArgumentTypeError describes an argument that could not be converted.
type ArgumentTypeError struct {
	Key  string
	Want string
	Got  any
}

func (e *ArgumentTypeError) Error() string {
	if e.Got == nil {
		return fmt.Sprintf("argument %q: missing, want %s", e.Key, e.Want)
	}
	return fmt.Sprintf("argument %q: want %s, got %T", e.Key, e.Want, e.Got)
}

func (e *ArgumentTypeError) Is(target error) bool { return target == ErrArgumentType }

// NotFoundError identifies the missing entity.
type NotFoundError struct {
	Type EntityType
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Type, e.ID, ErrNotFound)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransactionFailedError carries the handler error for a command.
// It unwraps to the handler error, so errors.Is matches both.
type TransactionFailedError struct {
	Command string
	Err     error
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("command %q: %s: %v", e.Command, ErrTransactionFailed, e.Err)
}

func (e *TransactionFailedError) Is(target error) bool { return target == ErrTransactionFailed }

func (e *TransactionFailedError) Unwrap() error { return e.Err }

// JournalWriteError reports the record that could not be appended.
type JournalWriteError struct {
	Seq uint64
	Err error
}

func (e *JournalWriteError) Error() string {
	return fmt.Sprintf("%s at seq %d: %v", ErrJournalWrite, e.Seq, e.Err)
}

func (e *JournalWriteError) Is(target error) bool { return target == ErrJournalWrite }

func (e *JournalWriteError) Unwrap() error { return e.Err }

// RecoveryError reports where replay stopped.
type RecoveryError struct {
	Seq     uint64
	Command string
	Err     error
}

func (e *RecoveryError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("%s at seq %d: %v", ErrRecovery, e.Seq, e.Err)
	}
	return fmt.Sprintf("%s at seq %d (%s): %v", ErrRecovery, e.Seq, e.Command, e.Err)
}

func (e *RecoveryError) Is(target error) bool { return target == ErrRecovery }

func (e *RecoveryError) Unwrap() error { return e.Err }
