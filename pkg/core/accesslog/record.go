//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

import (
	"time"

	"github.com/manetu/cedarengine/pkg/core/engine"
)

// Record is one auditable authorization decision.  Records serialize as
// plain JSON, one object per line in the default stream.
type Record struct {
	// ID correlates the record with the Result returned to the caller.
	ID string `json:"id"`

	// Timestamp is the wall-clock time the decision completed.
	Timestamp time.Time `json:"timestamp"`

	// Store names the policy store snapshot that served the decision.
	Store string `json:"store,omitempty"`

	// Action and Resource echo the request.
	Action   string `json:"action"`
	Resource string `json:"resource"`

	// Principals lists the principal entity uids evaluated.
	Principals []string `json:"principals,omitempty"`

	// Tokens lists the token names presented with the request.
	Tokens []string `json:"tokens,omitempty"`

	// Decision is the combined outcome.
	Decision bool `json:"decision"`

	// Workload and User carry per-principal diagnostics for
	// token-based requests.
	Workload *engine.Decision `json:"workload,omitempty"`
	User     *engine.Decision `json:"user,omitempty"`

	// ReasonCode and Reason describe the failure when the request was
	// rejected before evaluation (trust mode, entity build, bad input).
	ReasonCode string `json:"reason_code,omitempty"`
	Reason     string `json:"reason,omitempty"`

	// DurationUs is the wall time spent serving the request, in
	// microseconds.
	DurationUs int64 `json:"duration_us"`

	// Environment carries deployment-specific annotations configured
	// via audit.env.
	Environment map[string]string `json:"environment,omitempty"`
}
