package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/lprior-repo/zjj/internal/config"
	"github.com/lprior-repo/zjj/internal/queue"
	"github.com/lprior-repo/zjj/internal/session"
)

// Exit codes (SPEC_FULL.md §6.2).
const (
	ExitSuccess      = 0
	ExitUserError    = 1
	ExitSystemError  = 2
	ExitNotFound     = 3
	ExitInvalidState = 4
)

const envelopeSchema = "https://zjj.dev/schema/v1"
const schemaVersion = "1.0"

// envelope is the versioned JSON response shape every --json command emits
// (SPEC_FULL.md §6.3).
type envelope struct {
	Schema        string         `json:"$schema"`
	SchemaVersion string         `json:"_schema_version"`
	SchemaType    string         `json:"schema_type"`
	Success       bool           `json:"success"`
	Data          any            `json:"data,omitempty"`
	Error         *envelopeError `json:"error,omitempty"`
}

type envelopeError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	ExitCode    int      `json:"exit_code"`
	FixCommands []string `json:"fix_commands,omitempty"`
	Hints       []string `json:"hints,omitempty"`
}

func emitData(schemaType string, data any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(envelope{
		Schema:        envelopeSchema,
		SchemaVersion: schemaVersion,
		SchemaType:    schemaType,
		Success:       true,
		Data:          data,
	})
}

// emitOrPrint writes data as the JSON envelope when --json is set, otherwise
// delegates to plain, a plain-text renderer for the same data.
func emitOrPrint(schemaType string, data any, plain func()) {
	if jsonOutput {
		emitData(schemaType, data)
		return
	}
	plain()
}

// failCommand classifies err into the taxonomy of §7, prints it (respecting
// --json), and exits with the matching code from §6.2. It never returns.
func failCommand(err error) {
	code, exitCode, fixCmds := classifyError(err)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(envelope{
			Schema:        envelopeSchema,
			SchemaVersion: schemaVersion,
			SchemaType:    "error",
			Success:       false,
			Error: &envelopeError{
				Code:        code,
				Message:     err.Error(),
				ExitCode:    exitCode,
				FixCommands: fixCmds,
			},
		})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		for _, fc := range fixCmds {
			fmt.Fprintf(os.Stderr, "  try: %s\n", fc)
		}
	}
	os.Exit(exitCode)
}

// classifyError maps a typed error to a taxonomy code, exit code (§6.2), and
// any fix-command suggestions. Unrecognized errors are treated as system
// errors: the taxonomy is closed, but new engine error types should be added
// here rather than falling through silently.
func classifyError(err error) (code string, exitCode int, fixCommands []string) {
	var dedupe *queue.DedupeKeyConflictError
	var transition *queue.TransitionError
	var notRetryable *queue.NotRetryableError
	var notCancellable *queue.NotCancellableError
	var maxAttempts *queue.MaxAttemptsExceededError
	var alreadyTracked *queue.AlreadyTrackedError
	var unknownKeys *config.UnknownKeysError

	switch {
	case errors.As(err, &dedupe):
		return "dedupe_key_conflict", ExitInvalidState, nil
	case errors.As(err, &transition):
		return "invalid_transition", ExitInvalidState, nil
	case errors.As(err, &notRetryable):
		return "not_retryable", ExitInvalidState, nil
	case errors.As(err, &notCancellable):
		return "not_cancellable", ExitInvalidState, nil
	case errors.As(err, &maxAttempts):
		return "max_attempts_exceeded", ExitInvalidState, nil
	case errors.As(err, &alreadyTracked):
		return "already_tracked", ExitUserError, nil
	case errors.As(err, &unknownKeys):
		fixes := make([]string, 0, len(unknownKeys.Keys))
		for _, k := range unknownKeys.Keys {
			fixes = append(fixes, fmt.Sprintf("remove unknown key %q from config", k))
		}
		return "invalid_config", ExitUserError, fixes
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, session.ErrNotFound):
		return "not_found", ExitNotFound, nil
	case errors.Is(err, queue.ErrNoWork):
		return "no_work", ExitSuccess, nil
	case errors.Is(err, session.ErrAlreadyExists):
		return "already_exists", ExitUserError, []string{"choose a different session name, or pass --idempotent"}
	default:
		return "system_error", ExitSystemError, nil
	}
}
