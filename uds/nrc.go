package uds

import "fmt"

// NRC is a Negative Response Code, the third byte of a 0x7F response
// (spec §3). It implements error so it can be returned/wrapped directly.
type NRC byte

// NRC taxonomy (spec §3). Not exhaustive of ISO 14229-1, but covers every
// code the spec names plus the common range used by the corpus's ECUs.
const (
	NRCGeneralReject                             NRC = 0x10
	NRCServiceNotSupported                       NRC = 0x11
	NRCSubFunctionNotSupported                   NRC = 0x12
	NRCIncorrectMessageLengthOrInvalidFormat     NRC = 0x13
	NRCResponseTooLong                           NRC = 0x14
	NRCBusyRepeatRequest                         NRC = 0x21
	NRCConditionsNotCorrect                      NRC = 0x22
	NRCRequestSequenceError                      NRC = 0x24
	NRCNoResponseFromSubnetComponent             NRC = 0x25
	NRCFailurePreventsExecutionOfRequestedAction NRC = 0x26
	NRCRequestOutOfRange                         NRC = 0x31
	NRCSecurityAccessDenied                      NRC = 0x33
	NRCInvalidKey                                NRC = 0x35
	NRCExceededNumberOfAttempts                  NRC = 0x36
	NRCRequiredTimeDelayNotExpired                NRC = 0x37
	NRCUploadDownloadNotAccepted                 NRC = 0x70
	NRCTransferDataSuspended                     NRC = 0x71
	NRCGeneralProgrammingFailure                 NRC = 0x72
	NRCWrongBlockSequenceCounter                 NRC = 0x73
	NRCRequestCorrectlyReceivedResponsePending    NRC = 0x78
	NRCSubFunctionNotSupportedInActiveSession    NRC = 0x7E
	NRCServiceNotSupportedInActiveSession        NRC = 0x7F
)

var nrcNames = map[NRC]string{
	NRCGeneralReject:                             "General Reject",
	NRCServiceNotSupported:                       "Service Not Supported",
	NRCSubFunctionNotSupported:                   "Sub-Function Not Supported",
	NRCIncorrectMessageLengthOrInvalidFormat:     "Incorrect Message Length Or Invalid Format",
	NRCResponseTooLong:                           "Response Too Long",
	NRCBusyRepeatRequest:                         "Busy Repeat Request",
	NRCConditionsNotCorrect:                      "Conditions Not Correct",
	NRCRequestSequenceError:                      "Request Sequence Error",
	NRCNoResponseFromSubnetComponent:             "No Response From Subnet Component",
	NRCFailurePreventsExecutionOfRequestedAction: "Failure Prevents Execution Of Requested Action",
	NRCRequestOutOfRange:                         "Request Out Of Range",
	NRCSecurityAccessDenied:                      "Security Access Denied",
	NRCInvalidKey:                                "Invalid Key",
	NRCExceededNumberOfAttempts:                  "Exceeded Number Of Attempts",
	NRCRequiredTimeDelayNotExpired:                "Required Time Delay Not Expired",
	NRCUploadDownloadNotAccepted:                 "Upload/Download Not Accepted",
	NRCTransferDataSuspended:                     "Transfer Data Suspended",
	NRCGeneralProgrammingFailure:                 "General Programming Failure",
	NRCWrongBlockSequenceCounter:                 "Wrong Block Sequence Counter",
	NRCRequestCorrectlyReceivedResponsePending:    "Request Correctly Received - Response Pending",
	NRCSubFunctionNotSupportedInActiveSession:    "Sub-Function Not Supported In Active Session",
	NRCServiceNotSupportedInActiveSession:        "Service Not Supported In Active Session",
}

func (n NRC) String() string {
	if name, ok := nrcNames[n]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", byte(n))
}

func (n NRC) Error() string {
	return fmt.Sprintf("nrc 0x%02X: %s", byte(n), n.String())
}

// Recoverable reports whether the caller MAY retry the request after a
// short delay (spec §7): busyRepeatRequest and requiredTimeDelayNotExpired.
// The core never retries these implicitly.
func (n NRC) Recoverable() bool {
	return n == NRCBusyRepeatRequest || n == NRCRequiredTimeDelayNotExpired
}
