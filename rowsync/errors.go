// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"errors"
	"fmt"
)

// Sentinel errors for the sync protocol. Handlers surface these unmodified;
// transient storage errors are absorbed by the transaction retry loop and
// never reach callers unless retries exhaust.
var (
	// ErrVersionNotSupported indicates an unsupported pullVersion/pushVersion.
	ErrVersionNotSupported = errors.New("sync protocol version not supported")

	// ErrAccessDenied indicates a client group or client ownership mismatch.
	ErrAccessDenied = errors.New("access denied")

	// ErrClientStateNotFound indicates the server lost its bookkeeping for the
	// client (or the cookie references a pruned client view). The client must
	// discard local state and re-bootstrap.
	ErrClientStateNotFound = errors.New("client state not found")

	// ErrMutationConflict indicates a mutation id ahead of the server's cursor.
	// The client must pull before retrying the push.
	ErrMutationConflict = errors.New("mutation from the future")

	// ErrMaxRetriesExceeded indicates the transaction retry budget ran out.
	ErrMaxRetriesExceeded = errors.New("maximum transaction retries exceeded")
)

// errPastMutation marks an already-applied mutation id. It never escapes the
// push handler; replays are logged and treated as successful no-ops.
var errPastMutation = errors.New("mutation already processed")

// BusinessMutationError wraps a failure raised by a dispatched mutator. The
// push handler retries the mutation once in error mode (effect skipped, cursor
// advanced) before surfacing anything to the caller.
type BusinessMutationError struct {
	Name       string
	MutationID int64
	Err        error
}

func (e *BusinessMutationError) Error() string {
	return fmt.Sprintf("mutation %q (id=%d) failed: %v", e.Name, e.MutationID, e.Err)
}

func (e *BusinessMutationError) Unwrap() error { return e.Err }
