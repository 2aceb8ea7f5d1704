package models

// Side is the direction of a trade.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == Long || s == Short
}

// ExitReason records why a signal reached its terminal state.
type ExitReason string

const (
	ExitStopLoss       ExitReason = "stop_loss"
	ExitTarget1        ExitReason = "take_profit_1"
	ExitTarget2        ExitReason = "take_profit_2"
	ExitTimeout        ExitReason = "timeout"
	ExitEntryNotFilled ExitReason = "entry_not_filled"
	ExitForcedClose    ExitReason = "forced_close"
)

// ExitReasons lists every exit reason in display order.
var ExitReasons = []ExitReason{
	ExitStopLoss, ExitTarget1, ExitTarget2, ExitTimeout, ExitForcedClose, ExitEntryNotFilled,
}

// SignalState is the lifecycle state derived from a signal's fields.
type SignalState string

const (
	StatePendingEntry   SignalState = "PENDING_ENTRY"
	StateActive         SignalState = "ACTIVE"
	StateEntryNotFilled SignalState = "ENTRY_NOT_FILLED"
	StateClosed         SignalState = "CLOSED"
)

// Signal is a single trade candidate tracked from proposal through fill to exit.
// The recommended plan is immutable once proposed; the execution and exit
// fields are written only by the engine.
type Signal struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	Side       Side   `json:"side"`
	ProposedTS int64  `json:"proposed_ts"`
	Source     string `json:"source,omitempty"`

	// Recommended plan.
	EntryPrice   float64 `json:"entry_price"`
	StopPrice    float64 `json:"stop_price"`
	Target1Price float64 `json:"target1_price"`
	Target2Price float64 `json:"target2_price"`

	// Execution state.
	EntryEligibleFromTS int64    `json:"entry_eligible_from_ts"`
	EntryFilled         bool     `json:"entry_filled"`
	EntryFilledTS       *int64   `json:"entry_filled_ts,omitempty"`
	ActualEntryPrice    *float64 `json:"actual_entry_price,omitempty"`
	ActualStopPrice     float64  `json:"actual_stop_price"`
	ActualTarget1Price  float64  `json:"actual_target1_price"`
	ActualTarget2Price  float64  `json:"actual_target2_price"`

	// Exit state.
	ExitTS     *int64     `json:"exit_ts,omitempty"`
	ExitPrice  *float64   `json:"exit_price,omitempty"`
	ExitReason ExitReason `json:"exit_reason,omitempty"`
	ExitLabel  string     `json:"exit_label,omitempty"`

	// Accounting.
	FeesPaid     float64  `json:"fees_paid"`
	PnLPct       *float64 `json:"pnl_pct,omitempty"`
	NetPnLPct    *float64 `json:"net_pnl_pct,omitempty"`
	PnLAmount    *float64 `json:"pnl_amount,omitempty"`
	HoldingHours *float64 `json:"holding_hours,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// State derives the lifecycle state.
func (s *Signal) State() SignalState {
	switch {
	case s.ExitReason == ExitEntryNotFilled:
		return StateEntryNotFilled
	case s.ExitTS != nil:
		return StateClosed
	case s.EntryFilled:
		return StateActive
	default:
		return StatePendingEntry
	}
}

// Terminal reports whether the signal will never be evaluated again.
func (s *Signal) Terminal() bool {
	return s.ExitTS != nil
}

// Traded reports whether the signal was filled and closed, i.e. whether it
// contributes to P&L statistics.
func (s *Signal) Traded() bool {
	return s.EntryFilled && s.ExitTS != nil && s.PnLPct != nil && s.ExitReason != ExitEntryNotFilled
}

// Float returns a pointer to v, for the optional numeric fields.
func Float(v float64) *float64 { return &v }

// Millis returns a pointer to v, for the optional timestamp fields.
func Millis(v int64) *int64 { return &v }
