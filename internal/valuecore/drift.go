package valuecore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/veritas-os/veritas/internal/atomicio"
	"github.com/veritas-os/veritas/internal/errs"
)

// DefaultEMAAlpha is the smoothing factor for the per-user value EMA.
const DefaultEMAAlpha = 0.2

// emaState is the on-disk representation of one user's drift tracker.
type emaState struct {
	Baseline  float64   `json:"baseline"`
	EMA       float64   `json:"ema"`
	Samples   int64     `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DriftReport is the read-side view: current EMA plus drift vs baseline.
type DriftReport struct {
	Baseline      float64 `json:"baseline"`
	EMA           float64 `json:"ema"`
	DriftPct      float64 `json:"drift_pct"`
	Samples       int64   `json:"samples"`
}

// Tracker maintains per-user EMA drift state under value_core_lock,
// persisting every update atomically (spec.md §4.5/§4.6).
type Tracker struct {
	dir   string
	alpha float64
	lock  *atomicio.ReentrantLock
}

// NewTracker returns a Tracker rooted at dir (typically
// $VERITAS_DATA_DIR/valuecore). alpha <= 0 uses DefaultEMAAlpha.
func NewTracker(dir string, alpha float64) (*Tracker, error) {
	if alpha <= 0 {
		alpha = DefaultEMAAlpha
	}
	if err := atomicio.EnsureDir(dir); err != nil {
		return nil, errs.New(errs.KindTransientIO, "valuecore: create directory", err)
	}
	return &Tracker{dir: dir, alpha: alpha, lock: atomicio.NewReentrantLock()}, nil
}

func (t *Tracker) path(userID string) string {
	return filepath.Join(t.dir, safeSegment(userID)+".json")
}

// Update folds total (one Decide call's values.total) into userID's EMA
// and persists the result. The first observation for a user seeds both
// the baseline and the EMA.
func (t *Tracker) Update(userID string, total float64) (DriftReport, error) {
	var report DriftReport
	err := t.lock.WithLock(uuid.NewString(), func() error {
		state, err := t.read(userID)
		if err != nil {
			return err
		}
		if state.Samples == 0 {
			state.Baseline = total
			state.EMA = total
		} else {
			state.EMA = t.alpha*total + (1-t.alpha)*state.EMA
		}
		state.Samples++
		state.UpdatedAt = time.Now().UTC()

		if err := atomicio.AtomicWriteJSON(t.path(userID), state); err != nil {
			return errs.New(errs.KindTransientIO, "valuecore: persist ema state", err)
		}
		report = toReport(state)
		return nil
	})
	return report, err
}

// Current returns userID's drift report without updating it.
func (t *Tracker) Current(userID string) (DriftReport, error) {
	var report DriftReport
	err := t.lock.WithLock(userID, func() error {
		state, err := t.read(userID)
		if err != nil {
			return err
		}
		report = toReport(state)
		return nil
	})
	return report, err
}

func (t *Tracker) read(userID string) (emaState, error) {
	data, err := os.ReadFile(t.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return emaState{}, nil
		}
		return emaState{}, errs.New(errs.KindTransientIO, "valuecore: read ema state", err)
	}
	var s emaState
	if err := json.Unmarshal(data, &s); err != nil {
		return emaState{}, errs.New(errs.KindInvalidInput, "valuecore: parse ema state", err)
	}
	return s, nil
}

func toReport(s emaState) DriftReport {
	driftPct := 0.0
	if s.Baseline != 0 {
		driftPct = (s.EMA - s.Baseline) / s.Baseline * 100
	}
	return DriftReport{Baseline: s.Baseline, EMA: s.EMA, DriftPct: driftPct, Samples: s.Samples}
}

func safeSegment(userID string) string {
	out := make([]byte, 0, len(userID))
	for i := 0; i < len(userID); i++ {
		c := userID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}
