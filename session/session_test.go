package session

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"udsstack/can"
	"udsstack/isotp"
	"udsstack/uds"
)

// scriptedChannel is a minimal can.Channel fake that replays a fixed set of
// responses keyed by nothing more than call order, mirroring the uds
// package's own test fake for the same purpose.
type scriptedChannel struct {
	rxID  uint32
	script [][]byte
	index int
}

func (s *scriptedChannel) Open(ctx context.Context, bitrate int) error { return nil }
func (s *scriptedChannel) Close() error                                { return nil }
func (s *scriptedChannel) Send(ctx context.Context, frame can.Frame) error { return nil }

func (s *scriptedChannel) Recv(ctx context.Context, timeout time.Duration) (can.Frame, error) {
	if s.index >= len(s.script) {
		return can.Frame{}, can.ErrTimeout
	}
	data := s.script[s.index]
	s.index++
	return can.Frame{ID: s.rxID, Data: data}, nil
}

func singleFrame(payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(len(payload) & 0x0F)
	copy(out[1:], payload)
	return out
}

func newTestClient(script [][]byte) *uds.Client {
	ch := &scriptedChannel{rxID: 0x7E8, script: script}
	cfg := isotp.DefaultConfig(0x7E0, 0x7E8)
	cfg.NBs = 50 * time.Millisecond
	transport := isotp.New(ch, cfg)
	udsCfg := uds.DefaultConfig()
	udsCfg.P2Timeout = 100 * time.Millisecond
	udsCfg.P2StarTimeout = 150 * time.Millisecond
	return uds.NewClient(transport, udsCfg)
}

func TestSessionGuardEntersAndReleasesSession(t *testing.T) {
	enter := singleFrame([]byte{0x50, 0x03, 0x00, 0x32, 0x01, 0xF4})
	release := singleFrame([]byte{0x50, 0x01, 0x00, 0x32, 0x01, 0xF4})
	client := newTestClient([][]byte{enter, release})

	guard, err := SessionGuard(context.Background(), client, uds.SessionExtended)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.LastSession() != uds.SessionExtended {
		t.Fatalf("LastSession() = 0x%02X, want extended", client.LastSession())
	}
	if err := guard.Release(context.Background()); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
	if client.LastSession() != uds.SessionDefault {
		t.Fatalf("LastSession() after release = 0x%02X, want default", client.LastSession())
	}
	// Release must be idempotent.
	if err := guard.Release(context.Background()); err != nil {
		t.Fatalf("second release should be a no-op, got: %v", err)
	}
}

func TestDTCSettingGuardRoundTrip(t *testing.T) {
	off := singleFrame([]byte{0xC5, 0x02})
	on := singleFrame([]byte{0xC5, 0x01})
	client := newTestClient([][]byte{off, on})

	guard, err := DTCSettingGuard(context.Background(), client)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := guard.Release(context.Background()); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
}

func TestCommunicationGuardRestoresFullCommunication(t *testing.T) {
	disable := singleFrame([]byte{0x68, 0x03})
	enable := singleFrame([]byte{0x68, 0x00})
	client := newTestClient([][]byte{disable, enable})

	guard, err := CommunicationGuard(context.Background(), client, uds.CommDisableRxAndTx, 0x01)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := guard.Release(context.Background()); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
}

func TestCoordinatorSendsKeepAliveTicks(t *testing.T) {
	// Five suppressed TesterPresent calls: the fake channel never replies,
	// which is fine since suppressPositiveResponse means the client never
	// waits for one.
	client := newTestClient(nil)
	metrics := NewMetrics()
	coordinator := NewCoordinator(client, metrics, 10*time.Millisecond)

	coordinator.Start(context.Background())
	time.Sleep(55 * time.Millisecond)
	coordinator.Stop()

	count := testutil.ToFloat64(metrics.keepAliveTicks)
	if count < 2 {
		t.Fatalf("expected at least 2 keep-alive ticks in 55ms at 10ms period, got %v", count)
	}
}

func TestCoordinatorStartIsIdempotentAndStopIsSafeWithoutStart(t *testing.T) {
	client := newTestClient(nil)
	coordinator := NewCoordinator(client, nil, 10*time.Millisecond)

	coordinator.Start(context.Background())
	coordinator.Start(context.Background()) // must not spawn a second loop
	coordinator.Stop()
	coordinator.Stop() // must not block or panic
}
