//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package common provides shared types and utilities used across the
// cedarengine packages.
//
// # Error Handling
//
// The [DecisionError] type provides structured error information for
// authorization failures, including reason codes suitable for decision
// log records.
package common

import "fmt"

// ReasonCode classifies the cause of an authorization failure for
// inclusion in decision records.
type ReasonCode int

// Reason codes recorded in decision records when an authorization call
// cannot be completed normally.
const (
	ReasonUnknown ReasonCode = iota
	// ReasonInvalidParam indicates a malformed request (bad token string,
	// missing resource data, unparseable context).
	ReasonInvalidParam
	// ReasonTrustMode indicates the token set failed cross-token
	// consistency validation.
	ReasonTrustMode
	// ReasonEntityBuild indicates one or more entities could not be
	// constructed from the supplied tokens and resource data.
	ReasonEntityBuild
	// ReasonEvaluation indicates the policy evaluation itself failed.
	ReasonEvaluation
	// ReasonStore indicates the policy store is missing data required for
	// the decision (schema, policies, issuers).
	ReasonStore
)

var reasonNames = map[ReasonCode]string{
	ReasonUnknown:      "UNKNOWN",
	ReasonInvalidParam: "INVALID_PARAM",
	ReasonTrustMode:    "TRUST_MODE",
	ReasonEntityBuild:  "ENTITY_BUILD",
	ReasonEvaluation:   "EVALUATION",
	ReasonStore:        "STORE",
}

// String returns the symbolic name of the reason code.
func (c ReasonCode) String() string {
	if name, ok := reasonNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// DecisionError represents an error encountered while processing an
// authorization request.
//
// DecisionError provides structured error information that can be
// included in decision records for audit purposes.  It includes both a
// machine-readable reason code and a human-readable message, plus the
// underlying cause when available.
type DecisionError struct {
	// ReasonCode is the machine-readable error classification.
	ReasonCode ReasonCode
	// Reason is a human-readable description of the error.
	Reason string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface, returning a formatted string
// containing both the reason message and the reason code.
func (e *DecisionError) Error() string {
	return fmt.Sprintf("%s(code-%s)", e.Reason, e.ReasonCode)
}

// Unwrap returns the underlying cause for use with errors.Is/As.
func (e *DecisionError) Unwrap() error {
	return e.Cause
}

// NewError creates a new [DecisionError] with the specified reason code
// and message.
func NewError(code ReasonCode, msg string) *DecisionError {
	return &DecisionError{ReasonCode: code, Reason: msg}
}

// WrapError creates a new [DecisionError] carrying an underlying cause.
func WrapError(code ReasonCode, msg string, cause error) *DecisionError {
	return &DecisionError{ReasonCode: code, Reason: msg, Cause: cause}
}
