// Package queue contains the credential lifecycle event types and the
// background consumer that turns them into an audit log.
package queue

import "time"

// KeyEventQueueName is the durable queue carrying credential lifecycle events.
const KeyEventQueueName = "key.events"

// KeyDisabledEvent is published when the proxy permanently disables a
// credential after an authentication or quota rejection from its upstream.
// The key value itself is masked; only enough of it to identify the key to
// its owner is carried.
type KeyDisabledEvent struct {
	CredentialID string    `json:"credential_id"`
	OwnerID      string    `json:"owner_id"`
	MaskedValue  string    `json:"masked_value"`
	Endpoint     string    `json:"endpoint"`
	Reason       string    `json:"reason"`
	DisabledAt   time.Time `json:"disabled_at"`
}
