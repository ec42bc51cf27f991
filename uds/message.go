package uds

import (
	"fmt"
	"strings"
	"unicode"
)

// PositiveResponseOffset is added to a request's SID to form the first byte
// of its positive response (spec §3).
const PositiveResponseOffset byte = 0x40

// NegativeResponseSID is the first byte of every negative response.
const NegativeResponseSID byte = 0x7F

// Request is an outgoing UDS request: a service ID, optional sub-function,
// and any trailing data.
type Request struct {
	ServiceID   byte
	Subfunction *byte
	Data        []byte
}

// SuppressPositiveResponse reports whether bit 7 of the sub-function is
// set, meaning the ECU must not reply on success (spec §4.3).
func (r Request) SuppressPositiveResponse() bool {
	return r.Subfunction != nil && *r.Subfunction&0x80 != 0
}

// Encode serializes the request to its raw wire bytes.
func (r Request) Encode() []byte {
	out := make([]byte, 0, 2+len(r.Data))
	out = append(out, r.ServiceID)
	if r.Subfunction != nil {
		out = append(out, *r.Subfunction)
	}
	out = append(out, r.Data...)
	return out
}

// Response is a decoded UDS response, positive or negative.
type Response struct {
	ServiceID   byte
	Subfunction *byte
	NRC         *NRC
	Data        []byte
	Positive    bool
}

// DecodeResponse parses raw response bytes per spec §3's SID/NRC framing.
// hasSubfunction tells the decoder whether this service's positive
// response carries an echoed sub-function byte (most do).
func DecodeResponse(raw []byte, hasSubfunction bool) (Response, error) {
	if len(raw) == 0 {
		return Response{}, fmt.Errorf("%w: empty response", ErrProtocolError)
	}
	if raw[0] == NegativeResponseSID {
		if len(raw) < 3 {
			return Response{}, fmt.Errorf("%w: negative response too short", ErrProtocolError)
		}
		nrc := NRC(raw[2])
		return Response{
			ServiceID: raw[1],
			NRC:       &nrc,
			Data:      append([]byte(nil), raw[3:]...),
			Positive:  false,
		}, nil
	}
	if raw[0] < PositiveResponseOffset {
		return Response{}, fmt.Errorf("%w: missing positive response offset", ErrProtocolError)
	}
	resp := Response{
		ServiceID: raw[0] - PositiveResponseOffset,
		Positive:  true,
	}
	rest := raw[1:]
	if hasSubfunction {
		if len(rest) == 0 {
			return Response{}, fmt.Errorf("%w: missing echoed sub-function", ErrProtocolError)
		}
		resp.Subfunction = &rest[0]
		rest = rest[1:]
	}
	resp.Data = append([]byte(nil), rest...)
	return resp, nil
}

// ASCIIRepresentation renders the printable bytes of data as a string,
// used for VIN/ID-style DIDs that carry ASCII text.
func ASCIIRepresentation(data []byte) string {
	var b strings.Builder
	for _, c := range data {
		if unicode.IsPrint(rune(c)) {
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String()
}
