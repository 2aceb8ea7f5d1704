// Package signal defines the contract between the backtest engine and the
// signal generator it replays, plus a few built-in sources.
package signal

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/seenimoa/signalsim/pkg/models"
)

// ErrInvalidProposal is wrapped by every proposal validation failure.
var ErrInvalidProposal = errors.New("invalid proposal")

// Source produces at most one trade proposal for a symbol given the bars up
// to and including the current step. A nil proposal with a nil error means
// "nothing this step". Implementations must not retain the window slice.
type Source interface {
	Name() string
	Propose(ctx context.Context, symbol string, window []models.OHLCV) (*Proposal, error)
}

// Proposal is a recommended trade plan.
type Proposal struct {
	Side     models.Side    `json:"side"`
	Entry    float64        `json:"entry"`
	Stop     float64        `json:"stop"`
	Target1  float64        `json:"target1"`
	Target2  float64        `json:"target2"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ProposalError describes why a proposal was rejected.
type ProposalError struct {
	Symbol string
	Field  string
	Reason string
}

func (e *ProposalError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("invalid proposal: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid proposal for %s: %s: %s", e.Symbol, e.Field, e.Reason)
}

func (e *ProposalError) Unwrap() error { return ErrInvalidProposal }

// Validate checks that all prices are positive and finite and that stop and
// targets sit on the correct sides of the entry:
//
//	long:  stop < entry < target1 <= target2
//	short: stop > entry > target1 >= target2
func (p *Proposal) Validate(symbol string) error {
	fail := func(field, reason string) error {
		return &ProposalError{Symbol: symbol, Field: field, Reason: reason}
	}
	if !p.Side.Valid() {
		return fail("side", fmt.Sprintf("unknown side %q", p.Side))
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"entry", p.Entry}, {"stop", p.Stop}, {"target1", p.Target1}, {"target2", p.Target2}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v <= 0 {
			return fail(f.name, fmt.Sprintf("must be a positive price, got %v", f.v))
		}
	}

	switch p.Side {
	case models.Long:
		if p.Stop >= p.Entry {
			return fail("stop", "long stop must be below entry")
		}
		if p.Target1 <= p.Entry {
			return fail("target1", "long target must be above entry")
		}
		if p.Target2 < p.Target1 {
			return fail("target2", "long target2 must not be below target1")
		}
	case models.Short:
		if p.Stop <= p.Entry {
			return fail("stop", "short stop must be above entry")
		}
		if p.Target1 >= p.Entry {
			return fail("target1", "short target must be below entry")
		}
		if p.Target2 > p.Target1 {
			return fail("target2", "short target2 must not be above target1")
		}
	}
	return nil
}

// RiskPerUnit is the distance between entry and stop.
func (p *Proposal) RiskPerUnit() float64 {
	return math.Abs(p.Entry - p.Stop)
}

// planFromRisk builds a proposal from an entry, a stop distance and two
// reward multiples of that distance.
func planFromRisk(side models.Side, entry, risk, r1, r2 float64) *Proposal {
	p := &Proposal{Side: side, Entry: entry}
	if side == models.Long {
		p.Stop = entry - risk
		p.Target1 = entry + r1*risk
		p.Target2 = entry + r2*risk
	} else {
		p.Stop = entry + risk
		p.Target1 = entry - r1*risk
		p.Target2 = entry - r2*risk
	}
	return p
}
