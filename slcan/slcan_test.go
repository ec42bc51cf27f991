package slcan

import (
	"bufio"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"

	"udsstack/can"
)

// mockSerialPort is a hand-rolled serial.Port fake, the same shape as the
// teacher's MockSerialPort in drivers/arduino_test.go: a byte buffer for
// reads, a byte buffer for writes, and no-op stubs for the modem-control
// methods the interface requires but SLCAN never touches.
type mockSerialPort struct {
	mu        sync.Mutex
	readBuf   []byte
	readIndex int
	writeBuf  []byte
	closed    bool
}

func (m *mockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.EOF
	}
	if m.readIndex >= len(m.readBuf) {
		return 0, io.EOF
	}
	n := copy(p, m.readBuf[m.readIndex:])
	m.readIndex += n
	return n, nil
}

func (m *mockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.EOF
	}
	m.writeBuf = append(m.writeBuf, p...)
	return len(p), nil
}

func (m *mockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockSerialPort) writtenString() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.writeBuf)
}

func (m *mockSerialPort) feed(data string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBuf = append(m.readBuf, []byte(data)...)
}

func (m *mockSerialPort) SetMode(_ *serial.Mode) error              { return nil }
func (m *mockSerialPort) SetReadTimeout(_ time.Duration) error      { return nil }
func (m *mockSerialPort) Drain() error                              { return nil }
func (m *mockSerialPort) ResetInputBuffer() error                   { return nil }
func (m *mockSerialPort) ResetOutputBuffer() error                  { return nil }
func (m *mockSerialPort) SetDTR(_ bool) error                       { return nil }
func (m *mockSerialPort) SetRTS(_ bool) error                       { return nil }
func (m *mockSerialPort) Break(_ time.Duration) error               { return nil }
func (m *mockSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func newTestAdapter(mock *mockSerialPort) *Adapter {
	return &Adapter{
		port:   mock,
		reader: bufio.NewReader(mock),
		frames: make(chan can.Frame, 100),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func TestDecodeRecordStandardFrame(t *testing.T) {
	frame, ok, err := decodeRecord("t2228deadbeefcafebabe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true for a standard frame record")
	}
	if frame.ID != 0x222 || frame.Extended {
		t.Errorf("frame = %+v, want ID 0x222 standard", frame)
	}
	if len(frame.Data) != 8 {
		t.Fatalf("data length = %d, want 8", len(frame.Data))
	}
}

func TestDecodeRecordExtendedFrame(t *testing.T) {
	frame, ok, err := decodeRecord("T000007E82AABB")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || !frame.Extended {
		t.Fatalf("expected an extended frame, got %+v ok=%v", frame, ok)
	}
	if frame.ID != 0x7E8 {
		t.Errorf("ID = 0x%X, want 0x7E8", frame.ID)
	}
	if len(frame.Data) != 2 || frame.Data[0] != 0xAA || frame.Data[1] != 0xBB {
		t.Errorf("data = % X, want AA BB", frame.Data)
	}
}

func TestDecodeRecordNonFrameIsIgnored(t *testing.T) {
	_, ok, err := decodeRecord("O")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a non-frame record")
	}
}

func TestDecodeRecordTooShortIsError(t *testing.T) {
	if _, _, err := decodeRecord("t22"); err == nil {
		t.Fatal("expected error for a truncated record")
	}
}

func TestSendEncodesStandardFrame(t *testing.T) {
	mock := &mockSerialPort{}
	adapter := newTestAdapter(mock)

	err := adapter.Send(context.Background(), can.Frame{ID: 0x7E0, Data: []byte{0x02, 0x10, 0x03}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "t7E03021003\r"
	if got := mock.writtenString(); got != want {
		t.Errorf("written = %q, want %q", got, want)
	}
}

func TestSendRejectsOversizedPayload(t *testing.T) {
	mock := &mockSerialPort{}
	adapter := newTestAdapter(mock)

	err := adapter.Send(context.Background(), can.Frame{ID: 0x7E0, Data: make([]byte, 9)})
	if err == nil {
		t.Fatal("expected an error for a 9-byte payload")
	}
}

func TestReadLoopDeliversDecodedFrames(t *testing.T) {
	mock := &mockSerialPort{}
	mock.feed("t7E8022610\r")
	adapter := newTestAdapter(mock)
	adapter.ctx, adapter.cancel = context.WithCancel(context.Background())

	adapter.wg.Add(1)
	go adapter.readLoop()

	frame, err := adapter.Recv(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.ID != 0x7E8 || len(frame.Data) != 2 {
		t.Errorf("frame = %+v, want ID 0x7E8 with 2 data bytes", frame)
	}

	adapter.cancel()
	adapter.wg.Wait()
}

func TestRecvTimesOutWhenNothingArrives(t *testing.T) {
	mock := &mockSerialPort{}
	adapter := newTestAdapter(mock)
	adapter.ctx, adapter.cancel = context.WithCancel(context.Background())
	defer adapter.cancel()

	_, err := adapter.Recv(context.Background(), 10*time.Millisecond)
	if err != can.ErrTimeout {
		t.Fatalf("expected can.ErrTimeout, got %v", err)
	}
}
