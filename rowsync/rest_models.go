// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import "encoding/json"

// REST/JSON models for the pull and push endpoints. Body shapes follow the
// row-version sync protocol; transport framing beyond these payloads is up to
// the embedding application.

// Cookie is the opaque-to-the-client pull cursor. Order is the client view
// version the group last received.
type Cookie struct {
	Order int64 `json:"order"`
}

// PullRequest asks for the incremental patch since the supplied cookie. A nil
// cookie means first pull.
type PullRequest struct {
	PullVersion   int     `json:"pullVersion"`   // Must equal PullVersion (1)
	ClientGroupID string  `json:"clientGroupID"` // UUID of the requesting group
	Cookie        *Cookie `json:"cookie"`        // Prior CVR version, nil on first pull
	ProfileID     string  `json:"profileID"`     // Client profile, informational
	SchemaVersion string  `json:"schemaVersion"` // Client schema version, informational
}

// PatchOperation is one entry in the ordered pull patch. Op is OpClear, OpPut
// or OpDel; Key is "<table>/<id>" for put and del; Value carries the full
// business row for put.
type PatchOperation struct {
	Op    string          `json:"op"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// PullResponse carries the patch, the next cookie, and the new last mutation
// id for every client in the group that changed since the base view.
type PullResponse struct {
	Cookie                *Cookie          `json:"cookie"`
	LastMutationIDChanges map[string]int64 `json:"lastMutationIDChanges"`
	Patch                 []PatchOperation `json:"patch"`
}

// Mutation is one client-submitted intent. IDs are a per-client 1-based
// strictly increasing sequence.
type Mutation struct {
	ID        int64           `json:"id"`
	ClientID  string          `json:"clientID"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args"`
	Timestamp int64           `json:"timestamp"`
}

// PushRequest submits a batch of mutations. Mutations are applied strictly in
// request order, each in its own transaction.
type PushRequest struct {
	PushVersion   int        `json:"pushVersion"`   // Must equal PushVersion (1)
	ClientGroupID string     `json:"clientGroupID"` // UUID of the submitting group
	ProfileID     string     `json:"profileID"`     // Client profile, informational
	SchemaVersion string     `json:"schemaVersion"` // Client schema version, informational
	Mutations     []Mutation `json:"mutations"`
}

// PushResponse is an acknowledgement only. Clients discover applied state via
// the next pull's lastMutationIDChanges.
type PushResponse struct{}

// ErrorResponse is the JSON error envelope written by the HTTP handlers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
