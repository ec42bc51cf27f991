// Package session implements the timing/keep-alive coordinator and the
// scoped session/DTC-setting/communication guards (spec §4.4).
package session

import (
	"context"
	"fmt"

	"udsstack/uds"
)

// Guard is a scoped acquisition with guaranteed release on all exit paths,
// including failure (spec §9's design note on the source's RAII guard
// objects). Callers are expected to `defer guard.Release(ctx)`.
type Guard struct {
	release func(ctx context.Context) error
	done    bool
}

// Release runs the guard's teardown exactly once; subsequent calls are a
// no-op so a deferred Release after an explicit early one is always safe.
func (g *Guard) Release(ctx context.Context) error {
	if g == nil || g.done {
		return nil
	}
	g.done = true
	return g.release(ctx)
}

// SessionGuard requests target session on entry and Default on release.
// Per spec §4.4, keep-alive only runs while a non-default session is
// active; pair this with Coordinator.Start/Stop around the guard's scope.
func SessionGuard(ctx context.Context, client *uds.Client, target byte) (*Guard, error) {
	if _, err := client.DiagnosticSessionControl(ctx, target); err != nil {
		return nil, fmt.Errorf("session: entering session 0x%02X: %w", target, err)
	}
	return &Guard{release: func(ctx context.Context) error {
		_, err := client.DiagnosticSessionControl(ctx, uds.SessionDefault)
		return err
	}}, nil
}

// DTCSettingGuard disables DTC storage on entry and re-enables on release.
func DTCSettingGuard(ctx context.Context, client *uds.Client) (*Guard, error) {
	if err := client.ControlDTCSetting(ctx, uds.DTCSettingOff); err != nil {
		return nil, fmt.Errorf("session: disabling DTC setting: %w", err)
	}
	return &Guard{release: func(ctx context.Context) error {
		return client.ControlDTCSetting(ctx, uds.DTCSettingOn)
	}}, nil
}

// CommunicationGuard disables the given communication type on entry and
// re-enables it on release.
func CommunicationGuard(ctx context.Context, client *uds.Client, disable byte, communicationType byte) (*Guard, error) {
	if err := client.CommunicationControl(ctx, disable, communicationType); err != nil {
		return nil, fmt.Errorf("session: applying communication control 0x%02X: %w", disable, err)
	}
	enable := complementCommunicationControl(disable)
	return &Guard{release: func(ctx context.Context) error {
		return client.CommunicationControl(ctx, enable, communicationType)
	}}, nil
}

// complementCommunicationControl maps a disable sub-function back to the
// sub-function that restores full rx/tx.
func complementCommunicationControl(disable byte) byte {
	switch disable {
	case uds.CommDisableRxAndTx, uds.CommDisableRxEnableTx, uds.CommEnableRxDisableTx:
		return uds.CommEnableRxAndTx
	default:
		return uds.CommEnableRxAndTx
	}
}
