package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Step names fed into the rolling latency window by the turn pipeline.
const (
	StepResolve   = "resolve"
	StepEvaluate  = "evaluate"
	StepGenerate  = "generate"
	StepPersist   = "persist"
	StepTurnTotal = "turn_total"
)

type TurnStepStats struct {
	Step        string  `json:"step"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type TurnIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type TurnStepSnapshotData struct {
	GeneratedAt time.Time       `json:"generated_at"`
	WindowSize  int             `json:"window_size"`
	Steps       []TurnStepStats `json:"steps"`
	Indicators  []TurnIndicator `json:"indicators,omitempty"`
}

// turnStepWindow keeps a bounded ring of latency samples per pipeline step so
// the perf endpoint can report percentiles without Prometheus scraping.
type turnStepWindow struct {
	mu         sync.RWMutex
	maxSamples int
	steps      map[string]*turnStepBuffer
	indicators map[string]int
}

type turnStepBuffer struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func newTurnStepWindow(maxSamples int) *turnStepWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &turnStepWindow{
		maxSamples: maxSamples,
		steps:      make(map[string]*turnStepBuffer),
		indicators: make(map[string]int),
	}
}

func (w *turnStepWindow) Observe(step string, ms float64) {
	if step == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, ok := w.steps[step]
	if !ok {
		buf = &turnStepBuffer{
			values: make([]float64, w.maxSamples),
		}
		w.steps[step] = buf
	}
	buf.values[buf.next] = ms
	buf.last = ms
	buf.next++
	if buf.next >= len(buf.values) {
		buf.next = 0
		buf.filled = true
	}
}

func (w *turnStepWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *turnStepWindow) Snapshot() TurnStepSnapshotData {
	w.mu.RLock()
	defer w.mu.RUnlock()

	steps := make([]TurnStepStats, 0, len(w.steps))
	keys := make([]string, 0, len(w.steps))
	for step := range w.steps {
		keys = append(keys, step)
	}
	sort.Strings(keys)

	for _, step := range keys {
		buf := w.steps[step]
		if buf == nil {
			continue
		}
		n := buf.next
		if buf.filled {
			n = len(buf.values)
		}
		if n <= 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, buf.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}

		steps = append(steps, TurnStepStats{
			Step:        step,
			Samples:     n,
			LastMS:      round2(buf.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: stepTargetP95MS(step),
		})
	}

	indicators := make([]TurnIndicator, 0, len(w.indicators))
	indicatorKeys := make([]string, 0, len(w.indicators))
	for name := range w.indicators {
		indicatorKeys = append(indicatorKeys, name)
	}
	sort.Strings(indicatorKeys)
	for _, name := range indicatorKeys {
		count := w.indicators[name]
		if count <= 0 {
			continue
		}
		indicators = append(indicators, TurnIndicator{
			Name:  name,
			Count: count,
		})
	}

	return TurnStepSnapshotData{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Steps:       steps,
		Indicators:  indicators,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Per-step p95 targets. The LLM steps dominate; storage should stay cheap.
func stepTargetP95MS(step string) float64 {
	switch step {
	case StepResolve:
		return 50
	case StepEvaluate:
		return 4000
	case StepGenerate:
		return 8000
	case StepPersist:
		return 100
	case StepTurnTotal:
		return 12000
	default:
		return 0
	}
}
