// Package uds implements the ISO 14229 application layer: request
// encoding, response decoding, NRC classification and the response-pending
// retry protocol (spec §4.3).
package uds

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"udsstack/husklog"
	"udsstack/isotp"
)

// Config bundles the client-level tunables spec §6 lists.
type Config struct {
	P2Timeout           time.Duration
	P2StarTimeout       time.Duration
	MaxPendingResponses int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		P2Timeout:           1000 * time.Millisecond,
		P2StarTimeout:       5000 * time.Millisecond,
		MaxPendingResponses: 10,
	}
}

// Client is a long-lived UDS client over one ISO-TP transport. It is
// stateless across requests except for configured timeouts and the
// last-known session (spec §3's lifecycle note), and serializes requests:
// at most one is in flight at a time.
type Client struct {
	transport *isotp.Transport
	cfg       Config

	// busy serializes access to the shared CAN channel (spec §5): only one
	// request is ever in flight, whether it originates from application
	// code or the session coordinator's keep-alive loop.
	busy sync.Mutex

	lastSession byte
	lastTiming  Timing

	observer Observer
}

// Observer receives request/response telemetry from a Client without the
// uds package needing to depend on a metrics library directly (spec §3's
// ambient-stack note: instrumentation is wired in from the session layer).
type Observer interface {
	ObserveRequest(service string, err error)
	ObservePendingRetry()
}

// SetObserver attaches a telemetry sink; pass nil to detach.
func (c *Client) SetObserver(observer Observer) {
	c.observer = observer
}

// Timing is the most recently reported P2/P2* pair from a
// DiagnosticSessionControl positive response.
type Timing struct {
	P2     time.Duration
	P2Star time.Duration
}

// NewClient builds a Client over an already-configured ISO-TP transport.
func NewClient(transport *isotp.Transport, cfg Config) *Client {
	return &Client{transport: transport, cfg: cfg, lastSession: SessionDefault}
}

// LastSession returns the last session this client requested.
func (c *Client) LastSession() byte { return c.lastSession }

// LastTiming returns the most recently reported timing parameters, or the
// zero value if none have been reported yet.
func (c *Client) LastTiming() Timing { return c.lastTiming }

// do runs one request through the full envelope: encode, ISO-TP send,
// await + decode the response, and loop through any response-pending
// (NRC 0x78) frames per spec §4.3's state machine.
func (c *Client) do(ctx context.Context, req Request) (Response, error) {
	c.busy.Lock()
	defer c.busy.Unlock()

	reqID := xid.New().String()
	log := husklog.Active().WithFields(map[string]any{
		"req_id":  reqID,
		"service": ServiceLabel(req.ServiceID),
	})

	raw := req.Encode()
	if err := c.transport.Send(ctx, raw); err != nil {
		log.WithError(err).Error("transport send failed")
		err = fmt.Errorf("%w: %v", ErrTransportError, err)
		c.observe(req.ServiceID, err)
		return Response{}, err
	}

	if req.SuppressPositiveResponse() {
		// spec §4.3: must not await a response when suppress is set.
		c.observe(req.ServiceID, nil)
		return Response{}, nil
	}

	deadline := c.cfg.P2Timeout
	pendingCount := 0
	for {
		rawResp, err := c.transport.Receive(ctx, deadline)
		if err != nil {
			if errors.Is(err, isotp.ErrTransportTimeout) {
				c.observe(req.ServiceID, ErrTimeout)
				return Response{}, ErrTimeout
			}
			err = fmt.Errorf("%w: %v", ErrTransportError, err)
			c.observe(req.ServiceID, err)
			return Response{}, err
		}

		resp, err := DecodeResponse(rawResp, hasEchoedSubfunction(req.ServiceID))
		if err != nil {
			c.observe(req.ServiceID, err)
			return Response{}, err
		}
		if resp.ServiceID != req.ServiceID {
			err = fmt.Errorf("%w: response service 0x%02X does not match request 0x%02X", ErrProtocolError, resp.ServiceID, req.ServiceID)
			c.observe(req.ServiceID, err)
			return Response{}, err
		}

		if !resp.Positive {
			if *resp.NRC == NRCRequestCorrectlyReceivedResponsePending {
				// Not an error: a timer-reset protocol event (spec §9).
				pendingCount++
				if c.observer != nil {
					c.observer.ObservePendingRetry()
				}
				if pendingCount >= c.cfg.MaxPendingResponses {
					c.observe(req.ServiceID, ErrTimeout)
					return Response{}, ErrTimeout
				}
				deadline = c.cfg.P2StarTimeout
				log.WithField("pending_count", pendingCount).Debug("response pending, extending deadline")
				continue
			}
			negErr := &NegativeResponseError{ServiceID: resp.ServiceID, NRC: *resp.NRC}
			c.observe(req.ServiceID, negErr)
			return Response{}, negErr
		}
		c.observe(req.ServiceID, nil)
		return resp, nil
	}
}

func (c *Client) observe(serviceID byte, err error) {
	if c.observer != nil {
		c.observer.ObserveRequest(ServiceLabel(serviceID), err)
	}
}

// --- Diagnostic Session Control (0x10) ---

// SessionControlResult is the decoded positive response to
// DiagnosticSessionControl.
type SessionControlResult struct {
	Session byte
	P2      time.Duration
	P2Star  time.Duration
}

// DiagnosticSessionControl requests a session transition (spec §4.3 table).
func (c *Client) DiagnosticSessionControl(ctx context.Context, session byte) (SessionControlResult, error) {
	req := Request{ServiceID: ServiceDiagnosticSessionControl, Subfunction: &session}
	resp, err := c.do(ctx, req)
	if err != nil {
		return SessionControlResult{}, err
	}
	if len(resp.Data) < 4 {
		return SessionControlResult{}, fmt.Errorf("%w: short DiagnosticSessionControl response", ErrProtocolError)
	}
	result := SessionControlResult{
		Session: *resp.Subfunction,
		P2:      time.Duration(binary.BigEndian.Uint16(resp.Data[0:2])) * time.Millisecond,
		P2Star:  time.Duration(binary.BigEndian.Uint16(resp.Data[2:4])) * 10 * time.Millisecond,
	}
	c.lastSession = result.Session
	c.lastTiming = Timing{P2: result.P2, P2Star: result.P2Star}
	return result, nil
}

// --- ECU Reset (0x11) ---

// ECUResetResult is the decoded positive response to ECUReset.
type ECUResetResult struct {
	ResetType      byte
	PowerDownTime  *byte // only present for ResetType 0x04
}

// ECUReset requests the ECU reset itself (spec §4.3 table).
func (c *Client) ECUReset(ctx context.Context, resetType byte) (ECUResetResult, error) {
	req := Request{ServiceID: ServiceECUReset, Subfunction: &resetType}
	resp, err := c.do(ctx, req)
	if err != nil {
		return ECUResetResult{}, err
	}
	if resp.Subfunction == nil {
		return ECUResetResult{}, fmt.Errorf("%w: missing echoed reset type", ErrProtocolError)
	}
	result := ECUResetResult{ResetType: *resp.Subfunction}
	if *resp.Subfunction == 0x04 && len(resp.Data) >= 1 {
		pdt := resp.Data[0]
		result.PowerDownTime = &pdt
	}
	return result, nil
}

// --- Clear Diagnostic Information (0x14) ---

// ClearDiagnosticInformation clears the named DTC group (spec §4.3 table;
// group is always 24 bits, ClearAllDTCGroup clears everything).
func (c *Client) ClearDiagnosticInformation(ctx context.Context, group uint32) error {
	req := Request{ServiceID: ServiceClearDiagnosticInformation, Data: ClearDTCGroup(group)}
	_, err := c.do(ctx, req)
	return err
}

// --- Read DTC Information (0x19) ---

// ReadDTCReportByStatusMask runs sub-function 0x02 and returns the typed
// decode.
func (c *Client) ReadDTCReportByStatusMask(ctx context.Context, statusMask DTCStatus) (DTCReportByStatusMask, error) {
	sub := SubfunctionReportDTCByStatusMask
	req := Request{ServiceID: ServiceReadDTCInformation, Subfunction: &sub, Data: []byte{byte(statusMask)}}
	resp, err := c.do(ctx, req)
	if err != nil {
		return DTCReportByStatusMask{}, err
	}
	return decodeDTCReportByStatusMask(resp.Data)
}

// ReadDTCReportNumberByStatusMask runs sub-function 0x01.
func (c *Client) ReadDTCReportNumberByStatusMask(ctx context.Context, statusMask DTCStatus) (DTCReportNumberByStatusMask, error) {
	sub := SubfunctionReportNumberOfDTCByStatusMask
	req := Request{ServiceID: ServiceReadDTCInformation, Subfunction: &sub, Data: []byte{byte(statusMask)}}
	resp, err := c.do(ctx, req)
	if err != nil {
		return DTCReportNumberByStatusMask{}, err
	}
	return decodeDTCReportNumberByStatusMask(resp.Data)
}

// ReadDTCInformationRaw runs any ReadDTCInformation sub-function this
// client doesn't give a typed decode to and returns the raw payload
// (spec §9's open question on undocumented sub-function shapes).
func (c *Client) ReadDTCInformationRaw(ctx context.Context, subfunction byte, params []byte) (RawDTCReport, error) {
	req := Request{ServiceID: ServiceReadDTCInformation, Subfunction: &subfunction, Data: params}
	resp, err := c.do(ctx, req)
	if err != nil {
		return RawDTCReport{}, err
	}
	return RawDTCReport{SubFunction: subfunction, Data: resp.Data}, nil
}

// --- Read/Write Data By Identifier (0x22 / 0x2E) ---

// ReadDataByIdentifier reads one DID (the baseline per spec §4.3).
func (c *Client) ReadDataByIdentifier(ctx context.Context, did uint16) ([]byte, error) {
	reqDID := make([]byte, 2)
	binary.BigEndian.PutUint16(reqDID, did)
	req := Request{ServiceID: ServiceReadDataByIdentifier, Data: reqDID}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 2 {
		return nil, fmt.Errorf("%w: short ReadDataByIdentifier response", ErrProtocolError)
	}
	echoedDID := binary.BigEndian.Uint16(resp.Data[0:2])
	if echoedDID != did {
		return nil, fmt.Errorf("%w: echoed DID 0x%04X does not match requested 0x%04X", ErrProtocolError, echoedDID, did)
	}
	return resp.Data[2:], nil
}

// ReadDataByIdentifiers is the optional multi-DID convenience spec §4.3
// leaves unspecified: it concatenates DIDs into one request and checks
// that the response starts with the first requested DID's echo. The
// returned map holds only that first DID, whose value is every byte after
// its echo; the remaining DIDs are not split out (with more than one DID
// requested, that value also contains their echoes and data).
func (c *Client) ReadDataByIdentifiers(ctx context.Context, dids []uint16) (map[uint16][]byte, error) {
	data := make([]byte, 0, 2*len(dids))
	for _, did := range dids {
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, did)
		data = append(data, buf...)
	}
	req := Request{ServiceID: ServiceReadDataByIdentifier, Data: data}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(map[uint16][]byte, len(dids))
	rest := resp.Data
	for _, did := range dids {
		if len(rest) < 2 {
			return nil, fmt.Errorf("%w: truncated multi-DID response", ErrProtocolError)
		}
		echoed := binary.BigEndian.Uint16(rest[0:2])
		if echoed != did {
			return nil, fmt.Errorf("%w: echoed DID 0x%04X does not match expected 0x%04X", ErrProtocolError, echoed, did)
		}
		rest = rest[2:]
		// Without a DID-length dictionary (out of scope per spec §1) we
		// can't know where this DID's data ends and the next begins
		// unless exactly one DID was requested; callers wanting more
		// than one DID at a time must know each DID's fixed length.
		out[did] = rest
		break
	}
	return out, nil
}

// WriteDataByIdentifier writes data to a DID (spec §4.3 table).
func (c *Client) WriteDataByIdentifier(ctx context.Context, did uint16, data []byte) error {
	reqData := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(reqData[0:2], did)
	copy(reqData[2:], data)
	req := Request{ServiceID: ServiceWriteDataByIdentifier, Data: reqData}
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if len(resp.Data) < 2 {
		return fmt.Errorf("%w: short WriteDataByIdentifier response", ErrProtocolError)
	}
	echoedDID := binary.BigEndian.Uint16(resp.Data[0:2])
	if echoedDID != did {
		return fmt.Errorf("%w: echoed DID 0x%04X does not match requested 0x%04X", ErrProtocolError, echoedDID, did)
	}
	return nil
}

// --- Security Access (0x27) ---

// SecurityAccessRequestSeed requests a seed at the given odd sub-function
// level and returns the raw seed bytes.
func (c *Client) SecurityAccessRequestSeed(ctx context.Context, level byte) ([]byte, error) {
	req := Request{ServiceID: ServiceSecurityAccess, Subfunction: &level}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// KeyFunc computes a key from a seed for a given security level. The
// algorithm itself is vehicle-specific and out of this stack's scope
// (spec §1); this hook lets a caller supply one.
type KeyFunc func(seed []byte) ([]byte, error)

// SecurityAccessSendKey sends a computed key at the given even
// sub-function level, returning the (typically empty) ack payload.
func (c *Client) SecurityAccessSendKey(ctx context.Context, level byte, key []byte) ([]byte, error) {
	req := Request{ServiceID: ServiceSecurityAccess, Subfunction: &level, Data: key}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SecurityAccess runs the full seed→key handshake using keyFunc to
// compute the key from the ECU-supplied seed (SPEC_FULL §4 supplement).
func (c *Client) SecurityAccess(ctx context.Context, seedLevel, keyLevel byte, keyFunc KeyFunc) error {
	seed, err := c.SecurityAccessRequestSeed(ctx, seedLevel)
	if err != nil {
		return err
	}
	key, err := keyFunc(seed)
	if err != nil {
		return fmt.Errorf("uds: key computation failed: %w", err)
	}
	_, err = c.SecurityAccessSendKey(ctx, keyLevel, key)
	return err
}

// --- Routine Control (0x31) ---

// RoutineResult is the decoded positive response to RoutineControl.
type RoutineResult struct {
	RoutineID uint16
	Data      []byte
}

// RoutineControl starts/stops/polls a routine (spec §4.3 table).
func (c *Client) RoutineControl(ctx context.Context, subfunction byte, routineID uint16, data []byte) (RoutineResult, error) {
	reqData := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(reqData[0:2], routineID)
	copy(reqData[2:], data)
	req := Request{ServiceID: ServiceRoutineControl, Subfunction: &subfunction, Data: reqData}
	resp, err := c.do(ctx, req)
	if err != nil {
		return RoutineResult{}, err
	}
	if len(resp.Data) < 2 {
		return RoutineResult{}, fmt.Errorf("%w: short RoutineControl response", ErrProtocolError)
	}
	return RoutineResult{
		RoutineID: binary.BigEndian.Uint16(resp.Data[0:2]),
		Data:      resp.Data[2:],
	}, nil
}

// --- Tester Present (0x3E) ---

// TesterPresent sends a keep-alive. When suppressPositiveResponse is true
// the client does not await a reply (spec §4.3); it's used by the session
// coordinator's keep-alive loop.
func (c *Client) TesterPresent(ctx context.Context, suppressPositiveResponse bool) error {
	sub := byte(0x00)
	if suppressPositiveResponse {
		sub = 0x80
	}
	_, err := c.do(ctx, Request{ServiceID: ServiceTesterPresent, Subfunction: &sub})
	return err
}

// --- Communication Control (0x28) ---

// CommunicationControl toggles rx/tx per spec §4.4's communication guard.
func (c *Client) CommunicationControl(ctx context.Context, controlType byte, communicationType byte) error {
	req := Request{ServiceID: ServiceCommunicationControl, Subfunction: &controlType, Data: []byte{communicationType}}
	_, err := c.do(ctx, req)
	return err
}

// --- Control DTC Setting (0x85) ---

// ControlDTCSetting toggles DTC storage per spec §4.4's DTC-setting guard.
func (c *Client) ControlDTCSetting(ctx context.Context, setting byte) error {
	req := Request{ServiceID: ServiceControlDTCSetting, Subfunction: &setting}
	_, err := c.do(ctx, req)
	return err
}
