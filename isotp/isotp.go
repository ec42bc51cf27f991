// Package isotp implements the ISO 15765-2 transport layer: segmentation
// and reassembly of payloads up to 4095 bytes across single, first,
// consecutive and flow-control CAN frames (spec §4.2).
package isotp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"udsstack/can"
	"udsstack/husklog"
)

// PCI frame-type nibbles (spec §3).
const (
	PCISingleFrame     byte = 0x0
	PCIFirstFrame      byte = 0x1
	PCIConsecutiveFrame byte = 0x2
	PCIFlowControl     byte = 0x3
)

// Flow control status values (low nibble of the FC PCI byte).
const (
	FlowStatusContinue byte = 0x0
	FlowStatusWait     byte = 0x1
	FlowStatusAbort    byte = 0x2
)

// MaxPayload is the largest ISO-TP message length (12-bit length field).
const MaxPayload = 4095

// singleFrameMax is the largest payload a Single Frame can carry.
const singleFrameMax = 7

// firstFrameChunk / consecutiveChunk are the payload bytes per frame kind.
const (
	firstFrameChunk  = 6
	consecutiveChunk = 7
)

var (
	ErrPayloadTooLarge   = errors.New("isotp: payload exceeds 4095 bytes")
	ErrFlowControlWait   = errors.New("isotp: exceeded maximum consecutive Wait flow-control frames")
	ErrTransportAbort    = errors.New("isotp: flow control signalled abort")
	ErrSequenceError     = errors.New("isotp: out-of-order consecutive frame")
	ErrUnexpectedPCI     = errors.New("isotp: unexpected PCI frame type")
	ErrTransportTimeout  = errors.New("isotp: timed out waiting for a frame")
)

// Config bundles the tunables spec §6 lists for a client/session.
type Config struct {
	TxID uint32
	RxID uint32

	// PadByte pads short frames to 8 bytes (default 0xCC).
	PadByte byte

	// BlockSize is this receiver's announced BS in the Flow Control frames
	// it emits (default 0: "send everything, no further pausing").
	BlockSize byte
	// STmin is this receiver's announced separation time (default 0).
	STmin byte

	// NAs bounds a single frame send (channel write timeout).
	NAs time.Duration
	// NBs bounds the wait for a Flow Control frame after a First Frame or
	// block boundary (default 1000ms per spec §4.2).
	NBs time.Duration
	// NCr bounds the gap between consecutive frames while receiving.
	NCr time.Duration
	// MaxWaitFrames bounds successive FC=Wait frames (default 10).
	MaxWaitFrames int
}

// DefaultConfig returns the spec's documented defaults for everything
// except TxID/RxID, which the caller must always set.
func DefaultConfig(txID, rxID uint32) Config {
	return Config{
		TxID:          txID,
		RxID:          rxID,
		PadByte:       can.DefaultPadByte,
		BlockSize:     0,
		STmin:         0,
		NAs:           1000 * time.Millisecond,
		NBs:           1000 * time.Millisecond,
		NCr:           1000 * time.Millisecond,
		MaxWaitFrames: 10,
	}
}

// Transport is an ISO-TP session bound to one CAN channel and one
// (TxID, RxID) pair. Per spec §3 invariants, at most one message may be
// in flight on a Transport at a time; callers serialize Send/Receive.
type Transport struct {
	channel can.Channel
	cfg     Config
}

// New builds a Transport over an already-open CAN channel.
func New(channel can.Channel, cfg Config) *Transport {
	return &Transport{channel: channel, cfg: cfg}
}

// Send segments payload into one or more CAN frames on TxID and performs
// the flow-control handshake for multi-frame sends (spec §4.2 send path).
func (t *Transport) Send(ctx context.Context, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	log := husklog.Active().WithField("tx_id", fmt.Sprintf("0x%X", t.cfg.TxID))

	if len(payload) <= singleFrameMax {
		return t.sendSingleFrame(ctx, payload)
	}

	if err := t.sendFirstFrame(ctx, payload); err != nil {
		return err
	}

	remaining := payload[firstFrameChunk:]
	waitFrames := 0
	seq := byte(1)
	for len(remaining) > 0 {
		status, blockSize, stmin, err := t.awaitFlowControl(ctx)
		if err != nil {
			return err
		}
		switch status {
		case FlowStatusAbort:
			return ErrTransportAbort
		case FlowStatusWait:
			waitFrames++
			if waitFrames > t.cfg.MaxWaitFrames {
				return ErrFlowControlWait
			}
			continue
		case FlowStatusContinue:
			waitFrames = 0
		default:
			log.Warnf("unknown flow control status 0x%X, treating as continue", status)
		}

		sent, nextSeq, err := t.sendConsecutiveWindow(ctx, remaining, blockSize, stmin, seq)
		if err != nil {
			return err
		}
		remaining = remaining[sent:]
		seq = nextSeq
	}
	return nil
}

func (t *Transport) sendSingleFrame(ctx context.Context, payload []byte) error {
	data := make([]byte, 1+len(payload))
	data[0] = PCISingleFrame | byte(len(payload)&0x0F)
	copy(data[1:], payload)
	return t.sendFrame(ctx, data)
}

func (t *Transport) sendFirstFrame(ctx context.Context, payload []byte) error {
	length := uint16(len(payload))
	data := make([]byte, 8)
	data[0] = (PCIFirstFrame << 4) | byte((length>>8)&0x0F)
	data[1] = byte(length & 0xFF)
	copy(data[2:], payload[:firstFrameChunk])
	return t.sendFrame(ctx, data)
}

// sendConsecutiveWindow sends up to blockSize (or all remaining, if
// blockSize==0) consecutive frames starting at sequence number seq, and
// returns how many payload bytes were transmitted and the sequence number
// the next window continues from.
func (t *Transport) sendConsecutiveWindow(ctx context.Context, remaining []byte, blockSize byte, stmin byte, seq byte) (int, byte, error) {
	sent := 0
	framesInWindow := 0
	for len(remaining[sent:]) > 0 {
		if blockSize > 0 && framesInWindow == int(blockSize) {
			break
		}
		chunk := remaining[sent:]
		if len(chunk) > consecutiveChunk {
			chunk = chunk[:consecutiveChunk]
		}
		data := make([]byte, 1+len(chunk))
		data[0] = (PCIConsecutiveFrame << 4) | (seq & 0x0F)
		copy(data[1:], chunk)
		if err := t.sendFrame(ctx, data); err != nil {
			return sent, seq, err
		}
		sent += len(chunk)
		seq = (seq + 1) % 16
		framesInWindow++
		if len(remaining[sent:]) > 0 {
			sleepSTmin(stmin)
		}
	}
	return sent, seq, nil
}

func (t *Transport) sendFrame(ctx context.Context, data []byte) error {
	frame := can.Frame{ID: t.cfg.TxID, Data: can.Frame{Data: data}.Padded(t.cfg.PadByte)}
	sendCtx, cancel := context.WithTimeout(ctx, t.cfg.NAs)
	defer cancel()
	return t.channel.Send(sendCtx, frame)
}

func (t *Transport) awaitFlowControl(ctx context.Context) (status, blockSize, stmin byte, err error) {
	waitCtx, cancel := context.WithTimeout(ctx, t.cfg.NBs)
	defer cancel()
	for {
		frame, recvErr := t.channel.Recv(waitCtx, t.cfg.NBs)
		if recvErr != nil {
			if errors.Is(recvErr, can.ErrTimeout) {
				return 0, 0, 0, fmt.Errorf("%w: %v", ErrTransportTimeout, recvErr)
			}
			return 0, 0, 0, recvErr
		}
		if frame.ID != t.cfg.RxID || len(frame.Data) == 0 {
			continue
		}
		if (frame.Data[0]>>4)&0x0F != PCIFlowControl {
			continue
		}
		status = frame.Data[0] & 0x0F
		if len(frame.Data) > 1 {
			blockSize = frame.Data[1]
		}
		if len(frame.Data) > 2 {
			stmin = frame.Data[2]
		}
		return status, blockSize, stmin, nil
	}
}

// sleepSTmin honors the STmin encoding from spec §3: 0x00-0x7F are
// milliseconds, 0xF1-0xF9 are 100-900 microseconds, everything else is
// reserved and treated as 0.
func sleepSTmin(stmin byte) {
	switch {
	case stmin <= 0x7F:
		if stmin > 0 {
			time.Sleep(time.Duration(stmin) * time.Millisecond)
		}
	case stmin >= 0xF1 && stmin <= 0xF9:
		time.Sleep(time.Duration(100*(int(stmin)-0xF0)) * time.Microsecond)
	}
}

// Receive awaits and reassembles the next ISO-TP message on RxID, sending
// the required Flow Control frame when a First Frame arrives (spec §4.2
// receive path).
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTransportTimeout
		}
		frame, err := t.channel.Recv(ctx, remaining)
		if err != nil {
			if errors.Is(err, can.ErrTimeout) {
				return nil, ErrTransportTimeout
			}
			return nil, err
		}
		if frame.ID != t.cfg.RxID || len(frame.Data) == 0 {
			continue
		}
		pci := (frame.Data[0] >> 4) & 0x0F
		switch pci {
		case PCISingleFrame:
			length := int(frame.Data[0] & 0x0F)
			if length == 0 || len(frame.Data) < 1+length {
				return nil, fmt.Errorf("%w: short single frame", ErrUnexpectedPCI)
			}
			return append([]byte(nil), frame.Data[1:1+length]...), nil
		case PCIFirstFrame:
			return t.receiveConsecutive(ctx, frame, deadline)
		default:
			// Flow control or stray consecutive frame seen outside an
			// active multi-frame receive: ignore per spec §4.2.4.
			continue
		}
	}
}

func (t *Transport) receiveConsecutive(ctx context.Context, firstFrame can.Frame, deadline time.Time) ([]byte, error) {
	if len(firstFrame.Data) < 2 {
		return nil, fmt.Errorf("%w: short first frame", ErrUnexpectedPCI)
	}
	length := (int(firstFrame.Data[0]&0x0F) << 8) | int(firstFrame.Data[1])
	if length > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	buffer := make([]byte, 0, length)
	initial := firstFrame.Data[2:]
	if len(initial) > length {
		initial = initial[:length]
	}
	buffer = append(buffer, initial...)

	if err := t.sendFlowControl(ctx, FlowStatusContinue); err != nil {
		return nil, fmt.Errorf("failed to send flow control: %w", err)
	}

	expectedSeq := byte(1)
	framesSinceFC := 0
	for len(buffer) < length {
		remaining := time.Until(deadline)
		if remaining <= 0 || remaining > t.cfg.NCr {
			remaining = t.cfg.NCr
		}
		frame, err := t.channel.Recv(ctx, remaining)
		if err != nil {
			if errors.Is(err, can.ErrTimeout) {
				return nil, ErrTransportTimeout
			}
			return nil, err
		}
		if frame.ID != t.cfg.RxID || len(frame.Data) == 0 {
			continue
		}
		pci := (frame.Data[0] >> 4) & 0x0F
		if pci == PCIFlowControl {
			// We're receive-only here; ignore per spec §4.2.4.
			continue
		}
		if pci != PCIConsecutiveFrame {
			continue
		}
		seq := frame.Data[0] & 0x0F
		if seq != expectedSeq {
			return nil, ErrSequenceError
		}
		chunk := frame.Data[1:]
		remainingLen := length - len(buffer)
		if len(chunk) > remainingLen {
			chunk = chunk[:remainingLen]
		}
		buffer = append(buffer, chunk...)
		expectedSeq = (expectedSeq + 1) % 16
		framesSinceFC++
		if t.cfg.BlockSize > 0 && framesSinceFC == int(t.cfg.BlockSize) && len(buffer) < length {
			if err := t.sendFlowControl(ctx, FlowStatusContinue); err != nil {
				return nil, fmt.Errorf("failed to send flow control: %w", err)
			}
			framesSinceFC = 0
		}
	}
	return buffer, nil
}

func (t *Transport) sendFlowControl(ctx context.Context, status byte) error {
	data := []byte{
		(PCIFlowControl << 4) | (status & 0x0F),
		t.cfg.BlockSize,
		t.cfg.STmin,
	}
	return t.sendFrame(ctx, data)
}
