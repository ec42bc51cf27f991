// Package slcan implements the byte-oriented ASCII serial-line CAN
// protocol (spec §6) as a can.Channel, opening the underlying USB-serial
// port the way the teacher's Arduino driver does: go.bug.st/serial plus
// an enumerator-based autodetect, a background read loop feeding a
// buffered frame channel, and a write mutex guarding the wire.
package slcan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"udsstack/can"
	"udsstack/husklog"
)

// BaudRate is the serial line speed SLCAN adapters conventionally use;
// the CAN bitrate itself is selected separately via the S<n> record.
const BaudRate = 115200

// bitrateCodes maps a CAN bitrate in bits/second to its S<n> selector
// (spec §6 table; n=8 is 1 Mbps down to n=0 at 10 kbps).
var bitrateCodes = map[int]byte{
	1000000: '8',
	800000:  '7',
	500000:  '6',
	250000:  '5',
	125000:  '4',
	100000:  '3',
	50000:   '2',
	20000:   '1',
	10000:   '0',
}

// Adapter is a can.Channel backed by an SLCAN USB-serial device.
type Adapter struct {
	port   serial.Port
	reader *bufio.Reader

	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	frames chan can.Frame
	errs   chan error
	closed chan struct{}
	wg     sync.WaitGroup
}

// Open opens portName when it is non-empty, otherwise autodetects a
// USB-serial port, and returns an Adapter ready for can.Channel.Open.
func Open(portName string) (*Adapter, error) {
	log := husklog.Active()

	name := portName
	if name == "" {
		found, err := findSLCANPort()
		if err != nil {
			return nil, err
		}
		name = found
	}

	mode := &serial.Mode{BaudRate: BaudRate}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("slcan: opening %s: %w", name, err)
	}

	log.WithField("port", name).Info("slcan adapter opened")

	return &Adapter{
		port:   port,
		reader: bufio.NewReader(port),
		frames: make(chan can.Frame, 100),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}, nil
}

// findSLCANPort scans USB serial ports for a likely CAN adapter VID,
// mirroring the teacher's findArduinoPortName but with the broader VID
// set common to SLCAN-speaking adapters (Arduino-clone USB-CAN shields
// and the commercial Lawicel/CANable lineage).
func findSLCANPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("slcan: enumerating serial ports: %w", err)
	}
	for _, port := range ports {
		if port.IsUSB {
			switch port.VID {
			case "2341", "1A86", "2A03", "ad50", "16d0":
				return port.Name, nil
			}
		}
	}
	return "", fmt.Errorf("slcan: no CAN adapter found on the USB ports")
}

// Open establishes the channel at the given CAN bitrate (spec §6's S<n>
// then O sequence) and starts the background read loop.
func (a *Adapter) Open(ctx context.Context, bitrate int) error {
	code, ok := bitrateCodes[bitrate]
	if !ok {
		return fmt.Errorf("%w: unsupported bitrate %d", can.ErrFraming, bitrate)
	}
	if err := a.writeRecord(fmt.Sprintf("S%c", code)); err != nil {
		return err
	}
	if err := a.writeRecord("O"); err != nil {
		return err
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.wg.Add(1)
	go a.readLoop()
	return nil
}

// Close sends the SLCAN close record, stops the read loop and closes the
// underlying port. Safe to call more than once.
func (a *Adapter) Close() error {
	select {
	case <-a.closed:
		return nil
	default:
		close(a.closed)
	}

	_ = a.writeRecord("C")
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.port != nil {
		return a.port.Close()
	}
	return nil
}

// Send encodes frame as a t/T record and writes it to the port.
func (a *Adapter) Send(ctx context.Context, frame can.Frame) error {
	if len(frame.Data) > can.MaxDataLength {
		return fmt.Errorf("%w: frame data length %d exceeds %d", can.ErrFraming, len(frame.Data), can.MaxDataLength)
	}

	var b strings.Builder
	if frame.Extended {
		fmt.Fprintf(&b, "T%08X%X", frame.ID, len(frame.Data))
	} else {
		fmt.Fprintf(&b, "t%03X%X", frame.ID, len(frame.Data))
	}
	for _, d := range frame.Data {
		fmt.Fprintf(&b, "%02X", d)
	}
	return a.writeRecord(b.String())
}

// Recv returns the next inbound frame, blocking up to timeout.
func (a *Adapter) Recv(ctx context.Context, timeout time.Duration) (can.Frame, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-a.frames:
		return frame, nil
	case err := <-a.errs:
		return can.Frame{}, fmt.Errorf("%w: %v", can.ErrChannelClosed, err)
	case <-timer.C:
		return can.Frame{}, can.ErrTimeout
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case <-a.closed:
		return can.Frame{}, can.ErrChannelClosed
	}
}

func (a *Adapter) writeRecord(record string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, err := a.port.Write([]byte(record + "\r"))
	if err != nil {
		return fmt.Errorf("%w: writing %q: %v", can.ErrChannelClosed, record, err)
	}
	return nil
}

// readLoop continuously reads CR-terminated SLCAN records from the port
// and decodes t/T frames onto the frames channel, the way the teacher's
// ArduinoDriver.readLoop feeds its own framesChan.
func (a *Adapter) readLoop() {
	defer a.wg.Done()
	log := husklog.Active()

	for {
		select {
		case <-a.ctx.Done():
			return
		default:
		}

		line, err := a.reader.ReadString('\r')
		if err != nil {
			if err == io.EOF {
				return
			}
			select {
			case a.errs <- err:
			default:
			}
			return
		}

		record := strings.TrimRight(line, "\r\n")
		if record == "" {
			continue
		}
		if record == "\x07" {
			log.Warn("slcan adapter reported a bell error")
			continue
		}

		frame, ok, err := decodeRecord(record)
		if err != nil {
			log.WithError(err).Warn("slcan: dropping malformed record")
			continue
		}
		if !ok {
			continue // non-frame record (echoed S/O/C acknowledgement)
		}

		select {
		case a.frames <- frame:
		case <-a.ctx.Done():
			return
		}
	}
}

// decodeRecord parses one CR-stripped SLCAN record. ok is false for
// records that aren't standard/extended frames (e.g. command echoes).
func decodeRecord(record string) (frame can.Frame, ok bool, err error) {
	if len(record) == 0 {
		return can.Frame{}, false, nil
	}

	var idLen int
	extended := false
	switch record[0] {
	case 't':
		idLen = 3
	case 'T':
		idLen = 8
		extended = true
	default:
		return can.Frame{}, false, nil
	}

	if len(record) < 1+idLen+1 {
		return can.Frame{}, false, fmt.Errorf("%w: record %q too short", can.ErrFraming, record)
	}

	id, err := strconv.ParseUint(record[1:1+idLen], 16, 32)
	if err != nil {
		return can.Frame{}, false, fmt.Errorf("%w: invalid identifier in %q: %v", can.ErrFraming, record, err)
	}

	lengthOffset := 1 + idLen
	length, err := strconv.ParseUint(record[lengthOffset:lengthOffset+1], 16, 8)
	if err != nil {
		return can.Frame{}, false, fmt.Errorf("%w: invalid length in %q: %v", can.ErrFraming, record, err)
	}
	if length > can.MaxDataLength {
		return can.Frame{}, false, fmt.Errorf("%w: length %d exceeds %d in %q", can.ErrFraming, length, can.MaxDataLength, record)
	}

	dataOffset := lengthOffset + 1
	if len(record) < dataOffset+int(length)*2 {
		return can.Frame{}, false, fmt.Errorf("%w: record %q shorter than declared length %d", can.ErrFraming, record, length)
	}

	data := make([]byte, length)
	for i := 0; i < int(length); i++ {
		b, err := strconv.ParseUint(record[dataOffset+i*2:dataOffset+i*2+2], 16, 8)
		if err != nil {
			return can.Frame{}, false, fmt.Errorf("%w: invalid data byte in %q: %v", can.ErrFraming, record, err)
		}
		data[i] = byte(b)
	}

	return can.Frame{ID: uint32(id), Extended: extended, Data: data}, true, nil
}
