package dxscan

import (
	"context"
	"fmt"
	"time"
)

// Preference keys, shared with the hosting page's storage
const (
	// PreferredCameraKey is the durable preferred device id
	PreferredCameraKey = "preferredCameraId"
	// LastActivatedKey is the session-scoped timestamp of the last explicit activation
	LastActivatedKey = "lastCameraActivated"
)

// Preferences reads and writes the scanner's persisted state.
// A nil store disables the corresponding preference.
type Preferences struct {
	durable KeyValueStore
	session KeyValueStore
	clock   Clock
}

// NewPreferences creates preferences over a durable and a session-scoped store
func NewPreferences(durable, session KeyValueStore, clock Clock) *Preferences {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Preferences{durable: durable, session: session, clock: clock}
}

// PreferredCamera returns the persisted device id, empty if none
func (p *Preferences) PreferredCamera(ctx context.Context) (string, error) {
	if p.durable == nil {
		return "", nil
	}
	id, _, err := p.durable.Get(ctx, PreferredCameraKey)
	if err != nil {
		return "", fmt.Errorf("dxscan: failed to read preferred camera: %w", err)
	}
	return id, nil
}

// SetPreferredCamera persists the device id
func (p *Preferences) SetPreferredCamera(ctx context.Context, deviceID string) error {
	if p.durable == nil {
		return nil
	}
	if err := p.durable.Set(ctx, PreferredCameraKey, deviceID); err != nil {
		return fmt.Errorf("dxscan: failed to persist preferred camera: %w", err)
	}
	return nil
}

// MarkActivated records an explicit activation at the current time
func (p *Preferences) MarkActivated(ctx context.Context) error {
	if p.session == nil {
		return nil
	}
	now := p.clock.Now().UTC().Format(time.RFC3339Nano)
	if err := p.session.Set(ctx, LastActivatedKey, now); err != nil {
		return fmt.Errorf("dxscan: failed to record activation: %w", err)
	}
	return nil
}

// ActivatedWithin reports whether the last explicit activation happened less
// than window ago. Unreadable timestamps count as no activation.
func (p *Preferences) ActivatedWithin(ctx context.Context, window time.Duration) (bool, error) {
	if p.session == nil {
		return false, nil
	}
	raw, ok, err := p.session.Get(ctx, LastActivatedKey)
	if err != nil {
		return false, fmt.Errorf("dxscan: failed to read activation time: %w", err)
	}
	if !ok {
		return false, nil
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false, nil
	}
	elapsed := p.clock.Now().Sub(at)
	return elapsed >= 0 && elapsed < window, nil
}
