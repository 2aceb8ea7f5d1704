package backtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/seenimoa/signalsim/internal/signal"
	"github.com/seenimoa/signalsim/pkg/models"
)

// RunMeta summarises a run. Every skipped step is counted somewhere here so
// gaps in the output can be audited.
type RunMeta struct {
	RunID              string             `json:"run_id"`
	Source             string             `json:"source"`
	Interval           string             `json:"interval"`
	StartTS            int64              `json:"start_ts"`
	EndTS              int64              `json:"end_ts"`
	Seed               int64              `json:"seed"`
	Iterations         int                `json:"iterations"`
	ElapsedMS          int64              `json:"elapsed_ms"`
	Symbols            int                `json:"symbols"`
	SymbolsWithData    int                `json:"symbols_with_data"`
	SymbolsWithSignals int                `json:"symbols_with_signals"`
	Proposed           int                `json:"proposed"`
	Filled             int                `json:"filled"`
	NotFilled          int                `json:"not_filled"`
	Closed             int                `json:"closed"`
	ForcedClosed       int                `json:"forced_closed"`
	Rejected           int                `json:"rejected"`
	SourceErrors       int                `json:"source_errors"`
	MissingBarChecks   int                `json:"missing_bar_checks"`
	Skips              map[SkipReason]int `json:"skips"`
	Cancelled          bool               `json:"cancelled,omitempty"`
}

// Rejection records a proposal that failed validation at ingestion.
type Rejection struct {
	Symbol string `json:"symbol"`
	TS     int64  `json:"ts"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func newRejection(symbol string, ts int64, err error) Rejection {
	rej := Rejection{Symbol: symbol, TS: ts, Reason: err.Error()}
	var pe *signal.ProposalError
	if errors.As(err, &pe) {
		rej.Field = pe.Field
		rej.Reason = pe.Reason
	}
	return rej
}

// Result is the serialisable output of a run.
type Result struct {
	Meta       RunMeta              `json:"meta"`
	Signals    []models.Signal      `json:"signals"`
	Rejections []Rejection          `json:"rejections,omitempty"`
	Equity     []models.EquityPoint `json:"equity"`
}

// Traded returns the signals that were filled and closed.
func (r *Result) Traded() []models.Signal {
	out := make([]models.Signal, 0, len(r.Signals))
	for _, s := range r.Signals {
		if s.Traded() {
			out = append(out, s)
		}
	}
	return out
}

// WriteJSON encodes the result with indentation.
func (r *Result) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// SaveResult writes the result to path.
func SaveResult(path string, r *Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	if err := r.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("encode result: %w", err)
	}
	return f.Close()
}

// LoadResult reads a result previously written by SaveResult.
func LoadResult(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open result file: %w", err)
	}
	defer f.Close()

	var r Result
	if err := json.NewDecoder(f).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}
