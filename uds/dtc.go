package uds

import "fmt"

// DTCStatus is the 8-bit status mask ISO 14229-1 attaches to every DTC
// (spec §3). Modeled as a bitset with named accessors rather than a
// string, per the design note in spec §9.
type DTCStatus byte

const (
	DTCStatusTestFailed                  DTCStatus = 1 << 0
	DTCStatusTestFailedThisOperationCycle DTCStatus = 1 << 1
	DTCStatusPending                     DTCStatus = 1 << 2
	DTCStatusConfirmed                   DTCStatus = 1 << 3
	DTCStatusTestNotCompletedSinceClear  DTCStatus = 1 << 4
	DTCStatusTestFailedSinceClear        DTCStatus = 1 << 5
	DTCStatusTestNotCompletedThisOperationCycle DTCStatus = 1 << 6
	DTCStatusWarningIndicator            DTCStatus = 1 << 7
)

func (s DTCStatus) TestFailed() bool                 { return s&DTCStatusTestFailed != 0 }
func (s DTCStatus) TestFailedThisOperationCycle() bool {
	return s&DTCStatusTestFailedThisOperationCycle != 0
}
func (s DTCStatus) Pending() bool                    { return s&DTCStatusPending != 0 }
func (s DTCStatus) Confirmed() bool                  { return s&DTCStatusConfirmed != 0 }
func (s DTCStatus) TestNotCompletedSinceClear() bool {
	return s&DTCStatusTestNotCompletedSinceClear != 0
}
func (s DTCStatus) TestFailedSinceClear() bool { return s&DTCStatusTestFailedSinceClear != 0 }
func (s DTCStatus) TestNotCompletedThisOperationCycle() bool {
	return s&DTCStatusTestNotCompletedThisOperationCycle != 0
}
func (s DTCStatus) WarningIndicator() bool { return s&DTCStatusWarningIndicator != 0 }

func (s DTCStatus) String() string {
	return fmt.Sprintf("0x%02X", byte(s))
}

// DTC is a 24-bit diagnostic trouble code plus its status mask (spec §3).
type DTC struct {
	Code   uint32 // low 24 bits significant
	Status DTCStatus
}

func (d DTC) String() string {
	return fmt.Sprintf("%06X:%s", d.Code&0xFFFFFF, d.Status)
}

// ClearDTCGroup encodes a ClearDiagnosticInformation (0x14) request group.
// 0xFFFFFF clears every group (spec §4.3).
func ClearDTCGroup(group uint32) []byte {
	return []byte{byte(group >> 16), byte(group >> 8), byte(group)}
}

// ClearAllDTCGroup is the sentinel group value that clears every DTC.
const ClearAllDTCGroup uint32 = 0xFFFFFF

// RawDTCReport is the fallback shape for ReadDTCInformation sub-functions
// this stack doesn't give a typed decode to. Per spec §9's open question,
// undocumented sub-function layouts are surfaced as raw bytes rather than
// guessed at.
type RawDTCReport struct {
	SubFunction byte
	Data        []byte
}

// DTCReportByStatusMask is the typed decode of ReadDTCInformation
// sub-function 0x02 (reportDTCByStatusMask): a status-availability byte
// followed by a flat list of (3-byte DTC, 1-byte status) records.
type DTCReportByStatusMask struct {
	StatusAvailabilityMask DTCStatus
	DTCs                   []DTC
}

func decodeDTCReportByStatusMask(data []byte) (DTCReportByStatusMask, error) {
	if len(data) < 1 {
		return DTCReportByStatusMask{}, fmt.Errorf("%w: missing status availability mask", ErrProtocolError)
	}
	report := DTCReportByStatusMask{StatusAvailabilityMask: DTCStatus(data[0])}
	records := data[1:]
	if len(records)%4 != 0 {
		return DTCReportByStatusMask{}, fmt.Errorf("%w: DTC record list not a multiple of 4 bytes", ErrProtocolError)
	}
	for i := 0; i < len(records); i += 4 {
		code := uint32(records[i])<<16 | uint32(records[i+1])<<8 | uint32(records[i+2])
		report.DTCs = append(report.DTCs, DTC{Code: code, Status: DTCStatus(records[i+3])})
	}
	return report, nil
}

// DTCReportNumberByStatusMask is the typed decode of ReadDTCInformation
// sub-function 0x01 (reportNumberOfDTCByStatusMask).
type DTCReportNumberByStatusMask struct {
	StatusAvailabilityMask DTCStatus
	FormatIdentifier       byte
	Count                  uint16
}

func decodeDTCReportNumberByStatusMask(data []byte) (DTCReportNumberByStatusMask, error) {
	if len(data) < 4 {
		return DTCReportNumberByStatusMask{}, fmt.Errorf("%w: short reportNumberOfDTCByStatusMask response", ErrProtocolError)
	}
	return DTCReportNumberByStatusMask{
		StatusAvailabilityMask: DTCStatus(data[0]),
		FormatIdentifier:       data[1],
		Count:                  uint16(data[2])<<8 | uint16(data[3]),
	}, nil
}
