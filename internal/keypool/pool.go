// Package keypool owns the shared credential pool: insertion-ordered
// per-owner management, round-robin selection over the eligible set, and the
// failure-driven cooldown/disable state machine. All pool state lives behind
// one mutex; upstream network calls never happen while it is held.
package keypool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"api-farm/internal/model"
	"api-farm/internal/store"
)

var (
	// ErrDuplicateKey rejects a value already present anywhere in the pool,
	// regardless of owner.
	ErrDuplicateKey = errors.New("credential value already in pool")
	// ErrNotFound rejects removal of a value the caller does not own.
	ErrNotFound = errors.New("credential not found")
	// ErrPoolExhausted means no credential is currently eligible.
	ErrPoolExhausted = errors.New("no eligible credentials in pool")
)

// Outcome classifies what an upstream call did to the credential it used.
type Outcome int

const (
	// OutcomeSuccess resets the failure counter and reactivates the credential.
	OutcomeSuccess Outcome = iota
	// OutcomeTransientFailure counts toward the cooldown threshold
	// (timeouts, transport errors, upstream 5xx).
	OutcomeTransientFailure
	// OutcomeDefinitiveFailure disables the credential permanently
	// (authentication or quota rejection).
	OutcomeDefinitiveFailure
)

// Config tunes the health state machine.
type Config struct {
	// DefaultEndpoint is used when a credential is added without one.
	DefaultEndpoint string
	// FailureThreshold is the consecutive transient-failure count that
	// trips a credential into cooldown.
	FailureThreshold int
	// CooldownBase is the first cooldown window; each further trip doubles
	// it up to CooldownMax.
	CooldownBase time.Duration
	CooldownMax  time.Duration
}

// Pool is the concurrency-safe credential collection with its rotation cursor.
type Pool struct {
	mu      sync.Mutex
	byValue map[string]*model.Credential
	byID    map[string]*model.Credential
	order   []*model.Credential // insertion order, disabled entries included
	cursor  int

	persist store.Store
	cfg     Config
	now     func() time.Time
}

// New builds a Pool over previously loaded credentials; their stored order is
// the insertion order.
func New(persist store.Store, creds []model.Credential, cfg Config) *Pool {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CooldownBase <= 0 {
		cfg.CooldownBase = 30 * time.Second
	}
	if cfg.CooldownMax <= 0 {
		cfg.CooldownMax = 30 * time.Minute
	}
	p := &Pool{
		byValue: make(map[string]*model.Credential, len(creds)),
		byID:    make(map[string]*model.Credential, len(creds)),
		persist: persist,
		cfg:     cfg,
		now:     time.Now,
	}
	for i := range creds {
		c := creds[i]
		p.byValue[c.Value] = &c
		p.byID[c.ID] = &c
		p.order = append(p.order, &c)
	}
	return p
}

// Add inserts a credential for ownerID. The value must be unique across the
// whole pool; endpoint falls back to the configured default.
func (p *Pool) Add(ownerID, value, endpoint string) (string, error) {
	if endpoint == "" {
		endpoint = p.cfg.DefaultEndpoint
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byValue[value]; ok {
		return "", ErrDuplicateKey
	}
	c := &model.Credential{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Value:     value,
		Endpoint:  endpoint,
		Status:    model.StatusActive,
		CreatedAt: p.now().UTC(),
	}
	if err := p.persist.PutCredential(*c); err != nil {
		return "", fmt.Errorf("persist credential: %w", err)
	}
	p.byValue[value] = c
	p.byID[c.ID] = c
	p.order = append(p.order, c)
	return c.ID, nil
}

// Remove hard-deletes a credential owned by ownerID, freeing the value for
// future reuse by anyone. Removing another user's value reports ErrNotFound,
// same as removing a value that was never added.
func (p *Pool) Remove(ownerID, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.byValue[value]
	if !ok || c.OwnerID != ownerID {
		return ErrNotFound
	}
	if err := p.persist.DeleteCredential(value); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	delete(p.byValue, value)
	delete(p.byID, c.ID)
	for i, e := range p.order {
		if e == c {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns ownerID's credential values in insertion order. Other users'
// values are never revealed.
func (p *Pool) List(ownerID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	values := []string{}
	for _, c := range p.order {
		if c.OwnerID == ownerID {
			values = append(values, c.Value)
		}
	}
	return values
}

// Size reports the total number of credentials in the pool, eligible or not.
// The proxy uses it to bound its retry loop.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// SelectForUse picks the next credential round-robin over the eligible set:
// active entries plus cooling-down entries whose window has elapsed, which
// are promoted back to active on the spot. Eligibility is recomputed here on
// every call; there is no background timer.
//
// Promotion happens in memory only. A stored cooling_down record with an
// elapsed window reloads to exactly this eligible state, so nothing needs to
// be written here and selection stays I/O-free. Every durable status change
// goes through ReportOutcome, which persists under the pool lock, so no
// stale selection-time snapshot can ever overwrite a disable on disk.
func (p *Pool) SelectForUse() (model.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var eligible []*model.Credential
	for _, c := range p.order {
		switch c.Status {
		case model.StatusActive:
			eligible = append(eligible, c)
		case model.StatusCoolingDown:
			if !now.Before(c.CooldownUntil) {
				c.Status = model.StatusActive
				c.CooldownUntil = time.Time{}
				eligible = append(eligible, c)
			}
		}
	}
	if len(eligible) == 0 {
		return model.Credential{}, ErrPoolExhausted
	}

	idx := p.cursor % len(eligible)
	selected := *eligible[idx]
	p.cursor = (idx + 1) % len(eligible)
	return selected, nil
}

// ReportOutcome applies the health state machine for one upstream call and
// writes the updated record through. It returns the credential after the
// transition so callers can observe a disable.
func (p *Pool) ReportOutcome(credentialID string, outcome Outcome) (model.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.byID[credentialID]
	if !ok {
		// Removed while the call was in flight; nothing to update.
		return model.Credential{}, ErrNotFound
	}

	switch outcome {
	case OutcomeSuccess:
		c.FailCount = 0
		c.Status = model.StatusActive
		c.CooldownUntil = time.Time{}
		c.LastUsedAt = p.now().UTC()
	case OutcomeTransientFailure:
		if c.Status == model.StatusDisabled {
			break
		}
		c.FailCount++
		if c.FailCount >= p.cfg.FailureThreshold {
			c.Status = model.StatusCoolingDown
			c.CooldownUntil = p.now().Add(p.backoff(c.FailCount - p.cfg.FailureThreshold))
		}
	case OutcomeDefinitiveFailure:
		c.Status = model.StatusDisabled
		c.CooldownUntil = time.Time{}
	}

	if err := p.persist.PutCredential(*c); err != nil {
		return *c, fmt.Errorf("persist credential: %w", err)
	}
	return *c, nil
}

// backoff doubles from the base per extra trip, capped at the maximum.
func (p *Pool) backoff(trips int) time.Duration {
	if trips < 0 {
		trips = 0
	}
	if trips > 20 {
		trips = 20
	}
	delay := p.cfg.CooldownBase << trips
	if delay <= 0 || delay > p.cfg.CooldownMax {
		return p.cfg.CooldownMax
	}
	return delay
}
