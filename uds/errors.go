package uds

import (
	"errors"
	"fmt"
)

// Error taxonomy per spec §7.
var (
	// ErrTransportError wraps a failure from the ISO-TP/CAN layers: channel
	// closed, write failed, malformed framing at the adapter boundary.
	// Request-scoped failure; the channel may or may not still be usable.
	ErrTransportError = errors.New("uds: transport error")

	// ErrTimeout means no response arrived within the active P2/P2* deadline.
	ErrTimeout = errors.New("uds: timed out waiting for response")

	// ErrProtocolError covers malformed positive responses, SID mismatch,
	// echoed-identifier mismatch, and other framing violations.
	ErrProtocolError = errors.New("uds: protocol error")
)

// NegativeResponseError carries the raw NRC from an ECU-issued negative
// response that isn't the internally-consumed response-pending code.
type NegativeResponseError struct {
	ServiceID byte
	NRC       NRC
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("uds: negative response to %s: %s", ServiceLabel(e.ServiceID), e.NRC.Error())
}

// Is lets errors.Is(err, uds.ErrNegativeResponse) match any instance,
// matching the convention the standard library itself uses for families
// of errors distinguished by field.
func (e *NegativeResponseError) Is(target error) bool {
	return target == ErrNegativeResponse
}

// ErrNegativeResponse is the sentinel for errors.Is matching against any
// *NegativeResponseError.
var ErrNegativeResponse = errors.New("uds: negative response")

// TransferError is the error type for block-transfer operations
// (TransferData, RequestDownload/Upload) when a block is rejected or the
// sequence counter diverges (spec §7). Client has no block-transfer
// methods, so nothing in this package returns it.
type TransferError struct {
	Reason string
}

func (e *TransferError) Error() string { return "uds: transfer error: " + e.Reason }
