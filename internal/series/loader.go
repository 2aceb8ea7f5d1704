package series

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/signalsim/pkg/models"
)

// Format is the on-disk encoding of a series file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Loader reads one file per symbol from a directory, e.g. data/BTCUSDT.csv.
type Loader struct {
	Dir         string
	Format      Format
	Concurrency int
	Logger      *slog.Logger
}

// LoadAll reads every symbol concurrently into a new store. All series are
// fetched before the simulation starts so the loop itself never blocks on I/O.
// A symbol whose file is missing is logged and left out of the store; any
// other read or parse error aborts the load.
func (l *Loader) LoadAll(ctx context.Context, symbols []string) (*Store, error) {
	store := NewStore()
	log := l.logger()

	g, ctx := errgroup.WithContext(ctx)
	limit := l.Concurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			bars, err := l.Load(sym)
			if errors.Is(err, ErrNoData) {
				log.Warn("no series file for symbol", "symbol", sym, "dir", l.Dir)
				return nil
			}
			if err != nil {
				return err
			}
			s := New(sym, bars)
			store.Put(s)
			log.Debug("loaded series", "symbol", sym, "bars", s.Len())
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return store, nil
}

// Load reads a single symbol's bars.
func (l *Loader) Load(symbol string) ([]models.OHLCV, error) {
	format := l.Format
	if format == "" {
		format = FormatCSV
	}
	path := filepath.Join(l.Dir, symbol+"."+string(format))

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	switch format {
	case FormatJSON:
		return ReadJSON(f)
	case FormatCSV:
		return ReadCSV(f)
	default:
		return nil, fmt.Errorf("unsupported series format %q", format)
	}
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ReadJSON decodes an array of bars.
func ReadJSON(r io.Reader) ([]models.OHLCV, error) {
	var bars []models.OHLCV
	if err := json.NewDecoder(r).Decode(&bars); err != nil {
		return nil, fmt.Errorf("decode bars: %w", err)
	}
	return bars, nil
}

// ReadCSV decodes rows of timestamp,open,high,low,close[,volume]. The
// timestamp is epoch milliseconds or RFC 3339. A leading header row is skipped.
func ReadCSV(r io.Reader) ([]models.OHLCV, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var bars []models.OHLCV
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++
		if len(rec) < 5 {
			return nil, fmt.Errorf("line %d: expected at least 5 columns, got %d", line, len(rec))
		}
		if line == 1 && isHeader(rec[0]) {
			continue
		}

		ts, err := parseTimestamp(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var vals [5]float64
		for i := 1; i < len(rec) && i <= 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+1, err)
			}
			vals[i-1] = v
		}
		bars = append(bars, models.OHLCV{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return bars, nil
}

func isHeader(field string) bool {
	f := strings.ToLower(strings.TrimSpace(field))
	return f == "timestamp" || f == "time" || f == "ts" || f == "date"
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return models.FromMillis(ms), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}
