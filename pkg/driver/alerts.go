// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"fmt"

	"github.com/Thermoquad/moldstat/pkg/alert"
	"github.com/Thermoquad/moldstat/pkg/arburg"
)

// Alert keys raised by the driver besides the status validation keys
const (
	AlertRequestError = "request-error"
	AlertDatabase     = "database-error"
	AlertDisconnected = "disconnected-error"
)

// VariableAlertKey is the alert raised when a variable yields no value
func VariableAlertKey(name string) string {
	return "var-error-" + name
}

// Definitions are the alerts with known keys
var Definitions = map[string]alert.Definition{
	AlertRequestError: {
		Message: "Arburg: Error Sending Request",
		Description: func(d alert.Details) string {
			return fmt.Sprintf("Error occurred while sending a request. Error: %s", d.ErrorMsg)
		},
	},
	arburg.KeyTransactionMismatch: {
		Message:     "Arburg: Transaction ID Mismatch",
		Description: alert.Static("Mismatch between transaction IDs in response."),
	},
	arburg.KeyProceduralControl: {
		Message:     "Arburg: Procedural Control Field Incorrect",
		Description: alert.Static("Procedural control field in response is incorrect."),
	},
	arburg.KeyActionCommand: {
		Message:     "Arburg: Action Command Field Incorrect",
		Description: alert.Static("Action command field in response is incorrect."),
	},
	arburg.KeyResponseErrorCode: {
		Message: "Arburg: Response Error Code Received",
		Description: func(d alert.Details) string {
			return fmt.Sprintf("Received a diagnostic response error code of %d", d.ErrorCode)
		},
	},
	arburg.KeyInvalidGroupHeader: {
		Message:     "Arburg: Invalid Data Stream Group Header",
		Description: alert.Static("Invalid data stream grouper header in response."),
	},
	arburg.KeyUnexpectedResponseSize: {
		Message: "Arburg: Unexpected Response Size",
		Description: func(d alert.Details) string {
			return fmt.Sprintf("Unexpected response size: Received: %d bytes, Expected %d bytes.", d.Received, d.Expected)
		},
	},
	AlertDatabase: {
		Message: "Arburg: Error Writing to Database",
		Description: func(d alert.Details) string {
			return fmt.Sprintf("An error occurred writing a variable value to the database. Error: %s", d.ErrorMsg)
		},
	},
	AlertDisconnected: {
		Message:     "Arburg: Disconnected - Trying to Reconnect",
		Description: alert.Static("The serial connection to the machine has been lost - trying to reconnect."),
	},
}
