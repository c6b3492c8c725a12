package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mangoweb/nexus-router/pkg/validation"
)

// Preference selects the optimization objective for a search.
type Preference string

const (
	// PreferCheapest minimizes total USD cost (default).
	PreferCheapest Preference = "cheapest"
	// PreferFastest minimizes total expected latency.
	PreferFastest Preference = "fastest"
)

// RouteRequest is the read-only input of one routing query.
type RouteRequest struct {
	SourceID    ChainID    `json:"source_chain" validate:"required,chainid"`
	SourceAsset string     `json:"source_asset" validate:"required,assetsym"`
	DestID      ChainID    `json:"dest_chain" validate:"required,chainid"`
	DestAsset   string     `json:"dest_asset" validate:"required,assetsym"`
	AmountUSD   float64    `json:"amount_usd" validate:"required,amount"`
	Preference  Preference `json:"preference,omitempty"`
	// DeadlineMs caps the time spent on this request. Zero means the
	// server default applies.
	DeadlineMs int64 `json:"deadline_ms,omitempty" validate:"gte=0"`
}

// Validate validates the RouteRequest struct
func (r RouteRequest) Validate() error {
	if errs := validation.ValidateStruct(r); len(errs) > 0 {
		return errs
	}
	switch r.Preference {
	case "", PreferCheapest, PreferFastest:
	default:
		return fmt.Errorf("invalid preference %q: choose %q or %q", r.Preference, PreferCheapest, PreferFastest)
	}
	return nil
}

// Source returns the origin graph node.
func (r RouteRequest) Source() Node {
	return Node{Chain: r.SourceID, Asset: r.SourceAsset}
}

// Dest returns the destination graph node.
func (r RouteRequest) Dest() Node {
	return Node{Chain: r.DestID, Asset: r.DestAsset}
}

// RouteStep is one costed action on a chosen route.
type RouteStep struct {
	Action  Action        `json:"action"`
	CostUSD float64       `json:"cost_usd"`
	Latency time.Duration `json:"latency"`
}

// Route is an ordered action sequence from source to destination. Steps form
// a contiguous chain: Steps[i].Action.To == Steps[i+1].Action.From.
type Route struct {
	Steps        []RouteStep   `json:"steps"`
	TotalCostUSD float64       `json:"total_cost_usd"`
	TotalLatency time.Duration `json:"total_latency"`
}

// Contiguous verifies the step-chaining invariant.
func (r Route) Contiguous() bool {
	for i := 1; i < len(r.Steps); i++ {
		if r.Steps[i-1].Action.To != r.Steps[i].Action.From {
			return false
		}
	}
	return true
}

// ChainSequence lists the chain IDs visited in order, including the origin.
// Used for the final deterministic tie-break.
func (r Route) ChainSequence() []string {
	if len(r.Steps) == 0 {
		return nil
	}
	seq := make([]string, 0, len(r.Steps)+1)
	seq = append(seq, string(r.Steps[0].Action.From.Chain))
	for _, s := range r.Steps {
		seq = append(seq, string(s.Action.To.Chain))
	}
	return seq
}

// StepFact is the language-neutral record of one route step.
type StepFact struct {
	Kind           ActionKind `json:"kind"`
	From           Node       `json:"from"`
	To             Node       `json:"to"`
	Protocol       string     `json:"protocol,omitempty"`
	CostUSD        float64    `json:"cost_usd"`
	LatencySeconds float64    `json:"latency_seconds"`
}

// AlternateFact compares one alternate route against the chosen one.
type AlternateFact struct {
	TotalCostUSD   float64  `json:"total_cost_usd"`
	CostDeltaUSD   float64  `json:"cost_delta_usd"`
	LatencySeconds float64  `json:"latency_seconds"`
	ChainSequence  []string `json:"chain_sequence"`
	StepCount      int      `json:"step_count"`
}

// FactSet is the strictly structured summary handed to the external
// natural-language explanation service. No prose, no side effects.
type FactSet struct {
	Source              Node            `json:"source"`
	Destination         Node            `json:"destination"`
	AmountUSD           float64         `json:"amount_usd"`
	Preference          Preference      `json:"preference"`
	Steps               []StepFact      `json:"steps"`
	TotalCostUSD        float64         `json:"total_cost_usd"`
	TotalLatencySeconds float64         `json:"total_latency_seconds"`
	Alternates          []AlternateFact `json:"alternates"`
}

// RouteDecision is the event published after each completed optimization,
// consumed by the archiver and the dashboard. The engine itself keeps no
// persisted state.
type RouteDecision struct {
	RequestID string       `json:"request_id"`
	Request   RouteRequest `json:"request"`
	Chosen    Route        `json:"chosen"`
	Facts     FactSet      `json:"facts"`
	DecidedAt int64        `json:"decided_at_ms"`
}

// ToJSON serializes the decision for publishing.
func (d RouteDecision) ToJSON() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("json marshal error: %w", err)
	}
	return string(data), nil
}

// RouteDecisionFromJSON parses a published decision.
func RouteDecisionFromJSON(data string) (RouteDecision, error) {
	var d RouteDecision
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return d, fmt.Errorf("json unmarshal error: %w", err)
	}
	if d.RequestID == "" {
		return d, fmt.Errorf("decision missing request_id")
	}
	return d, nil
}
