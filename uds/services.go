package uds

import "fmt"

// UDS service IDs (spec §4.3 table, extended with the ISO 14229-1 services
// neighboring it so ServiceLabel covers more than the baseline catalog).
const (
	ServiceDiagnosticSessionControl       byte = 0x10
	ServiceECUReset                       byte = 0x11
	ServiceClearDiagnosticInformation     byte = 0x14
	ServiceReadDTCInformation             byte = 0x19
	ServiceReadDataByIdentifier           byte = 0x22
	ServiceReadMemoryByAddress            byte = 0x23
	ServiceReadScalingDataByIdentifier    byte = 0x24
	ServiceSecurityAccess                 byte = 0x27
	ServiceCommunicationControl           byte = 0x28
	ServiceWriteDataByIdentifier          byte = 0x2E
	ServiceInputOutputControlByIdentifier byte = 0x2F
	ServiceRoutineControl                 byte = 0x31
	ServiceRequestDownload                byte = 0x34
	ServiceRequestUpload                  byte = 0x35
	ServiceTransferData                   byte = 0x36
	ServiceRequestTransferExit            byte = 0x37
	ServiceTesterPresent                  byte = 0x3E
	ServiceControlDTCSetting              byte = 0x85
)

var serviceNames = map[byte]string{
	ServiceDiagnosticSessionControl:       "Diagnostic Session Control",
	ServiceECUReset:                       "ECU Reset",
	ServiceClearDiagnosticInformation:     "Clear Diagnostic Information",
	ServiceReadDTCInformation:             "Read DTC Information",
	ServiceReadDataByIdentifier:           "Read Data By Identifier",
	ServiceReadMemoryByAddress:            "Read Memory By Address",
	ServiceReadScalingDataByIdentifier:    "Read Scaling Data By Identifier",
	ServiceSecurityAccess:                 "Security Access",
	ServiceCommunicationControl:           "Communication Control",
	ServiceWriteDataByIdentifier:          "Write Data By Identifier",
	ServiceInputOutputControlByIdentifier: "Input Output Control By Identifier",
	ServiceRoutineControl:                 "Routine Control",
	ServiceRequestDownload:                "Request Download",
	ServiceRequestUpload:                  "Request Upload",
	ServiceTransferData:                   "Transfer Data",
	ServiceRequestTransferExit:            "Request Transfer Exit",
	ServiceTesterPresent:                  "Tester Present",
	ServiceControlDTCSetting:              "Control DTC Setting",
}

// ServiceLabel returns a human-readable name for a service ID, falling
// back to its hex value for anything outside the known catalog.
func ServiceLabel(sid byte) string {
	if name, ok := serviceNames[sid]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", sid)
}

// hasEchoedSubfunction reports whether a positive response to sid echoes
// a sub-function byte, needed by DecodeResponse to know where the data
// payload actually starts.
func hasEchoedSubfunction(sid byte) bool {
	switch sid {
	case ServiceDiagnosticSessionControl,
		ServiceECUReset,
		ServiceReadDTCInformation,
		ServiceSecurityAccess,
		ServiceCommunicationControl,
		ServiceRoutineControl,
		ServiceTesterPresent,
		ServiceControlDTCSetting:
		return true
	default:
		return false
	}
}
