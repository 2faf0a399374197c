package domain

import "time"

// PendingFlow is the short-lived, single-use record created when a login flow
// begins. The state parameter keys the record; the callback consumes it
// exactly once, which also prevents replay of the provider redirect.
type PendingFlow struct {
	State        string    `json:"state"`
	Nonce        string    `json:"nonce"`
	CodeVerifier string    `json:"code_verifier"`
	ReturnURL    string    `json:"return_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
