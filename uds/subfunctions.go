package uds

import "fmt"

// Sub-function constants for DiagnosticSessionControl (spec §3).
const (
	SessionDefault      byte = 0x01
	SessionProgramming  byte = 0x02
	SessionExtended     byte = 0x03
	SessionSafetySystem byte = 0x04
)

// Sub-function constants for ECUReset.
const (
	ResetHard       byte = 0x01
	ResetKeyOffOn   byte = 0x02
	ResetSoft       byte = 0x03
)

// Sub-function constants for SecurityAccess. Odd levels request a seed,
// the following even level sends the computed key (ISO 14229-1 convention
// carried forward per SPEC_FULL §4's security access supplement).
const (
	SecurityLevel1RequestSeed byte = 0x01
	SecurityLevel1SendKey     byte = 0x02
)

// Sub-function constants for RoutineControl.
const (
	RoutineStart          byte = 0x01
	RoutineStop           byte = 0x02
	RoutineRequestResults byte = 0x03
)

// Sub-function constants for CommunicationControl.
const (
	CommEnableRxAndTx        byte = 0x00
	CommEnableRxDisableTx    byte = 0x01
	CommDisableRxEnableTx    byte = 0x02
	CommDisableRxAndTx       byte = 0x03
)

// Sub-function constants for ControlDTCSetting.
const (
	DTCSettingOn  byte = 0x01
	DTCSettingOff byte = 0x02
)

// Sub-function constants for ReadDTCInformation (spec §9's supplemented
// reporting types; other sub-functions stay undecoded per the spec's open
// question).
const (
	SubfunctionReportNumberOfDTCByStatusMask byte = 0x01
	SubfunctionReportDTCByStatusMask          byte = 0x02
)

var subfunctionNames = map[byte]map[byte]string{
	ServiceDiagnosticSessionControl: {
		SessionDefault:      "Default Session",
		SessionProgramming:  "Programming Session",
		SessionExtended:     "Extended Diagnostic Session",
		SessionSafetySystem: "Safety System Diagnostic Session",
	},
	ServiceECUReset: {
		ResetHard:     "Hard Reset",
		ResetKeyOffOn: "Key Off On Reset",
		ResetSoft:     "Soft Reset",
	},
	ServiceSecurityAccess: {
		SecurityLevel1RequestSeed: "Request Seed",
		SecurityLevel1SendKey:     "Send Key",
	},
	ServiceRoutineControl: {
		RoutineStart:          "Start Routine",
		RoutineStop:           "Stop Routine",
		RoutineRequestResults: "Request Routine Results",
	},
	ServiceCommunicationControl: {
		CommEnableRxAndTx:     "Enable Rx And Tx",
		CommEnableRxDisableTx: "Enable Rx, Disable Tx",
		CommDisableRxEnableTx: "Disable Rx, Enable Tx",
		CommDisableRxAndTx:    "Disable Rx And Tx",
	},
	ServiceControlDTCSetting: {
		DTCSettingOn:  "DTC Setting On",
		DTCSettingOff: "DTC Setting Off",
	},
	ServiceReadDTCInformation: {
		SubfunctionReportNumberOfDTCByStatusMask: "Report Number Of DTC By Status Mask",
		SubfunctionReportDTCByStatusMask:          "Report DTC By Status Mask",
	},
}

// SubfunctionLabel returns a human-readable name for a (service, sub-function)
// pair, falling back to its hex value for anything outside the known set.
// The suppress-positive-response bit (0x80) is masked off before lookup.
func SubfunctionLabel(sid byte, subfunction byte) string {
	masked := subfunction &^ 0x80
	if subMap, ok := subfunctionNames[sid]; ok {
		if name, ok := subMap[masked]; ok {
			return name
		}
	}
	return fmt.Sprintf("0x%02X", masked)
}
