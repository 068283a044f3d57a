// Package envelope emits the plan/result envelopes every mutating command
// shares. Plan and result use the same shape with a kind discriminant so
// automation can diff a plan against the result that applied it.
package envelope

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/ragline/ragline/internal/config"
)

// SchemaVersion tags every envelope for forward compatibility.
const SchemaVersion = "rag.v1"

// Kind discriminates plan from result envelopes.
type Kind string

const (
	KindPlan   Kind = "plan"
	KindResult Kind = "result"
)

// Meta carries optional run bookkeeping.
type Meta struct {
	DurationMS int64  `json:"duration_ms,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

// Envelope is the single NDJSON object a command writes to stdout in json
// mode. Exactly one of Plan or Result is set, matching Kind.
type Envelope struct {
	Kind          Kind      `json:"kind"`
	SchemaVersion string    `json:"schema_version"`
	Time          time.Time `json:"time"`
	RequestID     uuid.UUID `json:"request_id"`
	Op            string    `json:"op"`
	Apply         bool      `json:"apply"`
	Plan          any       `json:"plan,omitempty"`
	Result        any       `json:"result,omitempty"`
	Meta          *Meta     `json:"meta,omitempty"`
}

// notification is the JSON-RPC wrapper used in mcp output mode.
type notification struct {
	JSONRPC string   `json:"jsonrpc"`
	Method  string   `json:"method"`
	Params  Envelope `json:"params"`
}

// Emitter writes envelopes for one process. In text output mode it writes
// nothing; commands print their own human-readable text instead.
type Emitter struct {
	w      io.Writer
	format config.OutputFormat
	pretty bool
	now    func() time.Time
}

// New creates an Emitter writing to w.
func New(w io.Writer, format config.OutputFormat, pretty bool) *Emitter {
	return &Emitter{w: w, format: format, pretty: pretty, now: time.Now}
}

// Enabled reports whether this emitter writes anything at all.
func (e *Emitter) Enabled() bool {
	return e.format == config.OutputJSON || e.format == config.OutputMCP
}

// Plan emits a plan envelope for op.
func (e *Emitter) Plan(op string, payload any, meta *Meta) error {
	return e.emit(Envelope{
		Kind:          KindPlan,
		SchemaVersion: SchemaVersion,
		Time:          e.now().UTC(),
		RequestID:     uuid.New(),
		Op:            op,
		Apply:         false,
		Plan:          payload,
		Meta:          meta,
	})
}

// Result emits a result envelope for op.
func (e *Emitter) Result(op string, payload any, meta *Meta) error {
	return e.emit(Envelope{
		Kind:          KindResult,
		SchemaVersion: SchemaVersion,
		Time:          e.now().UTC(),
		RequestID:     uuid.New(),
		Op:            op,
		Apply:         true,
		Result:        payload,
		Meta:          meta,
	})
}

func (e *Emitter) emit(env Envelope) error {
	if !e.Enabled() {
		return nil
	}

	var v any = env
	if e.format == config.OutputMCP {
		v = notification{
			JSONRPC: "2.0",
			Method:  "notifications/" + string(env.Kind),
			Params:  env,
		}
	}

	var (
		buf []byte
		err error
	)
	if e.pretty {
		buf, err = json.MarshalIndent(v, "", "  ")
	} else {
		buf, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	buf = append(buf, '\n')
	if _, err := e.w.Write(buf); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}
	return nil
}
