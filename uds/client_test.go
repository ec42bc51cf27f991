package uds

import (
	"context"
	"errors"
	"testing"
	"time"

	"udsstack/can"
	"udsstack/isotp"
)

// scriptedChannel replays a fixed sequence of inbound frames (one per Recv
// call) and records every frame sent, modeling one physical CAN bus for a
// single request/response exchange.
type scriptedChannel struct {
	rxID    uint32
	script  [][]byte
	index   int
	sent    []can.Frame
}

func (s *scriptedChannel) Open(ctx context.Context, bitrate int) error { return nil }
func (s *scriptedChannel) Close() error                                { return nil }

func (s *scriptedChannel) Send(ctx context.Context, frame can.Frame) error {
	s.sent = append(s.sent, frame)
	return nil
}

func (s *scriptedChannel) Recv(ctx context.Context, timeout time.Duration) (can.Frame, error) {
	if s.index >= len(s.script) {
		return can.Frame{}, can.ErrTimeout
	}
	data := s.script[s.index]
	s.index++
	return can.Frame{ID: s.rxID, Data: data}, nil
}

// singleFrame builds the ISO-TP single-frame encoding of payload.
func singleFrame(payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(len(payload) & 0x0F)
	copy(out[1:], payload)
	return out
}

func newTestClient(script [][]byte) *Client {
	ch := &scriptedChannel{rxID: 0x7E8, script: script}
	cfg := isotp.DefaultConfig(0x7E0, 0x7E8)
	cfg.NBs = 50 * time.Millisecond
	transport := isotp.New(ch, cfg)
	udsCfg := DefaultConfig()
	udsCfg.P2Timeout = 200 * time.Millisecond
	udsCfg.P2StarTimeout = 300 * time.Millisecond
	return NewClient(transport, udsCfg)
}

func TestDiagnosticSessionControlExtendedWithTiming(t *testing.T) {
	resp := singleFrame([]byte{0x50, 0x03, 0x00, 0x32, 0x01, 0xF4})
	client := newTestClient([][]byte{resp})

	result, err := client.DiagnosticSessionControl(context.Background(), SessionExtended)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Session != SessionExtended {
		t.Errorf("session = 0x%02X, want 0x%02X", result.Session, SessionExtended)
	}
	if result.P2 != 50*time.Millisecond {
		t.Errorf("P2 = %v, want 50ms", result.P2)
	}
	if result.P2Star != 5000*time.Millisecond {
		t.Errorf("P2Star = %v, want 5000ms", result.P2Star)
	}
	if client.LastSession() != SessionExtended {
		t.Errorf("LastSession() = 0x%02X, want 0x%02X", client.LastSession(), SessionExtended)
	}
}

func TestResponsePendingThenPositive(t *testing.T) {
	pending := singleFrame([]byte{0x7F, 0x22, byte(NRCRequestCorrectlyReceivedResponsePending)})
	positive := singleFrame([]byte{0x62, 0xF1, 0x90, 'A', 'B'})
	client := newTestClient([][]byte{pending, pending, positive})

	data, err := client.ReadDataByIdentifier(context.Background(), 0xF190)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "AB" {
		t.Errorf("data = %q, want %q", data, "AB")
	}
}

func TestResponsePendingAtMaxFails(t *testing.T) {
	pending := singleFrame([]byte{0x7F, 0x22, byte(NRCRequestCorrectlyReceivedResponsePending)})
	script := make([][]byte, 0, 10)
	for i := 0; i < 10; i++ {
		script = append(script, pending)
	}
	client := newTestClient(script)
	client.cfg.MaxPendingResponses = 10

	// Per the invariant the operation completes iff k < max_pending_responses;
	// 10 consecutive pending frames (k == max) must fail.
	_, err := client.ReadDataByIdentifier(context.Background(), 0xF190)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout at k == max_pending_responses, got %v", err)
	}
}

func TestResponsePendingBelowMaxSucceeds(t *testing.T) {
	pending := singleFrame([]byte{0x7F, 0x22, byte(NRCRequestCorrectlyReceivedResponsePending)})
	positive := singleFrame([]byte{0x62, 0xF1, 0x90, 'O', 'K'})
	script := make([][]byte, 0, 10)
	for i := 0; i < 9; i++ {
		script = append(script, pending)
	}
	script = append(script, positive)
	client := newTestClient(script)
	client.cfg.MaxPendingResponses = 10

	data, err := client.ReadDataByIdentifier(context.Background(), 0xF190)
	if err != nil {
		t.Fatalf("expected success at k == max-1, got error: %v", err)
	}
	if string(data) != "OK" {
		t.Errorf("data = %q, want %q", data, "OK")
	}
}

func TestNegativeResponseSurfaced(t *testing.T) {
	neg := singleFrame([]byte{0x7F, 0x22, byte(NRCRequestOutOfRange)})
	client := newTestClient([][]byte{neg})

	_, err := client.ReadDataByIdentifier(context.Background(), 0xF190)
	var negErr *NegativeResponseError
	if !errors.As(err, &negErr) {
		t.Fatalf("expected *NegativeResponseError, got %v", err)
	}
	if negErr.NRC != NRCRequestOutOfRange {
		t.Errorf("NRC = %v, want %v", negErr.NRC, NRCRequestOutOfRange)
	}
	if !errors.Is(err, ErrNegativeResponse) {
		t.Error("errors.Is against ErrNegativeResponse should match")
	}
}

func TestTesterPresentSuppressedDoesNotAwaitResponse(t *testing.T) {
	client := newTestClient(nil) // no scripted frames: a read would time out
	if err := client.TesterPresent(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClearAllDTCs(t *testing.T) {
	resp := singleFrame([]byte{0x54})
	client := newTestClient([][]byte{resp})

	if err := client.ClearDiagnosticInformation(context.Background(), ClearAllDTCGroup); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReadDataByIdentifierEchoMismatchIsProtocolError(t *testing.T) {
	resp := singleFrame([]byte{0x62, 0xF1, 0x91, 0x00})
	client := newTestClient([][]byte{resp})

	_, err := client.ReadDataByIdentifier(context.Background(), 0xF190)
	if !errors.Is(err, ErrProtocolError) {
		t.Fatalf("expected ErrProtocolError, got %v", err)
	}
}
