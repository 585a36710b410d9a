package cost

import (
	"sync"
	"time"

	"github.com/sells-group/sector-scout/pkg/anthropic"
)

// PhaseCost accumulates usage for one pipeline stage.
type PhaseCost struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	USD          float64 `json:"usd"`
}

// Report is a point-in-time view of accumulated spend.
type Report struct {
	TotalUSD    float64              `json:"total_usd"`
	TotalCalls  int                  `json:"total_calls"`
	ByPhase     map[string]PhaseCost `json:"by_phase"`
	CollectedAt time.Time            `json:"collected_at"`
}

// Recorder accumulates per-stage AI spend for the lifetime of the
// process. Safe for concurrent use; the stage workers all feed it.
type Recorder struct {
	calc *Calculator

	mu      sync.Mutex
	byPhase map[string]PhaseCost
}

// NewRecorder creates a Recorder priced by the given rates.
func NewRecorder(rates Rates) *Recorder {
	return &Recorder{
		calc:    NewCalculator(rates),
		byPhase: make(map[string]PhaseCost),
	}
}

// Record accumulates one invocation's usage under its stage name.
func (r *Recorder) Record(phase, model string, usage anthropic.TokenUsage) {
	usd := r.calc.Claude(model,
		usage.InputTokens, usage.OutputTokens,
		usage.CacheCreationInputTokens, usage.CacheReadInputTokens)

	r.mu.Lock()
	defer r.mu.Unlock()
	pc := r.byPhase[phase]
	pc.Calls++
	pc.InputTokens += usage.InputTokens
	pc.OutputTokens += usage.OutputTokens
	pc.USD += usd
	r.byPhase[phase] = pc
}

// Snapshot returns a copy of the accumulated totals.
func (r *Recorder) Snapshot() Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := Report{
		ByPhase:     make(map[string]PhaseCost, len(r.byPhase)),
		CollectedAt: time.Now().UTC(),
	}
	for phase, pc := range r.byPhase {
		rep.ByPhase[phase] = pc
		rep.TotalUSD += pc.USD
		rep.TotalCalls += pc.Calls
	}
	return rep
}
