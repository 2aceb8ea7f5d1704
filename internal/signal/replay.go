package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/seenimoa/signalsim/pkg/models"
)

// ReplayRecord is one pre-computed proposal as written by the upstream
// scoring pipeline. Price fields are pointers so a missing field can be told
// apart from an explicit zero.
type ReplayRecord struct {
	Symbol   string         `json:"symbol"`
	TS       int64          `json:"ts"`
	Side     models.Side    `json:"side"`
	Entry    *float64       `json:"entry"`
	Stop     *float64       `json:"stop"`
	Target1  *float64       `json:"target1"`
	Target2  *float64       `json:"target2"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Proposal converts the record, failing on any missing required field.
func (r ReplayRecord) Proposal() (*Proposal, error) {
	fields := []struct {
		name string
		v    *float64
	}{{"entry", r.Entry}, {"stop", r.Stop}, {"target1", r.Target1}, {"target2", r.Target2}}
	for _, f := range fields {
		if f.v == nil {
			return nil, &ProposalError{Symbol: r.Symbol, Field: f.name, Reason: "missing"}
		}
	}
	return &Proposal{
		Side:     r.Side,
		Entry:    *r.Entry,
		Stop:     *r.Stop,
		Target1:  *r.Target1,
		Target2:  *r.Target2,
		Metadata: r.Metadata,
	}, nil
}

// Replay serves proposals recorded ahead of time, keyed by symbol and the
// open time of the bar they were produced on.
type Replay struct {
	records map[string]map[int64]ReplayRecord
}

// NewReplay indexes records. A later record for the same symbol and
// timestamp replaces an earlier one.
func NewReplay(records []ReplayRecord) *Replay {
	r := &Replay{records: make(map[string]map[int64]ReplayRecord)}
	for _, rec := range records {
		bySym, ok := r.records[rec.Symbol]
		if !ok {
			bySym = make(map[int64]ReplayRecord)
			r.records[rec.Symbol] = bySym
		}
		bySym[rec.TS] = rec
	}
	return r
}

// LoadReplay reads a JSON array of ReplayRecord from path.
func LoadReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()
	return ReadReplay(f)
}

// ReadReplay decodes a JSON array of ReplayRecord.
func ReadReplay(r io.Reader) (*Replay, error) {
	var recs []ReplayRecord
	if err := json.NewDecoder(r).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decode replay records: %w", err)
	}
	return NewReplay(recs), nil
}

func (r *Replay) Name() string { return "replay" }

// Len returns the number of indexed records.
func (r *Replay) Len() int {
	n := 0
	for _, m := range r.records {
		n += len(m)
	}
	return n
}

func (r *Replay) Propose(_ context.Context, symbol string, window []models.OHLCV) (*Proposal, error) {
	if len(window) == 0 {
		return nil, nil
	}
	rec, ok := r.records[symbol][window[len(window)-1].TS()]
	if !ok {
		return nil, nil
	}
	return rec.Proposal()
}
