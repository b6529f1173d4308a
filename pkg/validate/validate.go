// Package validate performs structural and temporal admission checks on
// incoming requests before any policy evaluation runs. Checks run in a
// fixed order and short-circuit on the first failure; the validator has
// no side effects.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/warden-labs/warden/pkg/contracts"
	"github.com/warden-labs/warden/pkg/reason"
)

// MaxTimestampSkew is the admission window around engine time for the
// caller-asserted timestamp.
const MaxTimestampSkew = 5 * time.Minute

// envelopeSchema covers the structural shape check: the identifying
// fields must all be present and non-empty and the action type must be
// one of the closed set.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["request_id", "principal_id", "agent_id", "action_type", "payload_ref"],
  "properties": {
    "request_id":   {"type": "string", "minLength": 1},
    "principal_id": {"type": "string", "minLength": 1},
    "agent_id":     {"type": "string", "minLength": 1},
    "payload_ref":  {"type": "string", "minLength": 1},
    "action_type": {
      "type": "string",
      "enum": ["payment", "data_access", "credential_use", "external_call", "other"]
    }
  }
}`

// Validator admission-checks request envelopes against a compiled schema
// and the engine clock.
type Validator struct {
	schema *jsonschema.Schema
	clock  func() time.Time
}

// New compiles the envelope schema and returns a validator using the
// given clock. A nil clock means wall time.
func New(clock func() time.Time) (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://warden.schemas.local/request-envelope.schema.json"
	if err := c.AddResource(url, strings.NewReader(envelopeSchema)); err != nil {
		return nil, fmt.Errorf("validate: schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("validate: schema compile failed: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Validator{schema: compiled, clock: clock}, nil
}

// MustNew is New for wiring paths where a schema failure is a programmer
// error.
func MustNew(clock func() time.Time) *Validator {
	v, err := New(clock)
	if err != nil {
		panic(err)
	}
	return v
}

// Check runs the admission checks in order and returns the reason code
// of the first failure, or "" when the envelope is admissible.
//
// Order: shape, timestamp validity, timestamp skew, privileged-path
// bypass, side-channel flags.
func (v *Validator) Check(in *contracts.RequestInput) string {
	if in == nil || !v.shapeOK(in) {
		return reason.CodeInvalidRequestShape
	}
	if in.TimestampMS <= 0 {
		return reason.CodeInvalidTimestamp
	}
	now := v.clock()
	asserted := time.UnixMilli(in.TimestampMS)
	if skew := now.Sub(asserted); skew > MaxTimestampSkew || skew < -MaxTimestampSkew {
		return reason.CodeTimestampSkew
	}
	// A request that did not arrive over the privileged handshake path
	// is a bypass attempt, not a malformed envelope.
	if !in.PrivilegedPath {
		return reason.CodeBypassDenied
	}
	if in.SideChannelAttempt || in.DirectAdapterCall {
		return reason.CodeSideChannelDenied
	}
	return ""
}

func (v *Validator) shapeOK(in *contracts.RequestInput) bool {
	raw, err := json.Marshal(in)
	if err != nil {
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return false
	}
	return v.schema.Validate(generic) == nil
}
