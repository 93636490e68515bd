package interview

import (
	"context"
	"time"
)

// StageRecord tracks completion of a single stage. Completed flips false→true
// at most once per conversation; it is never reset except by conversation
// expiry and recreation.
type StageRecord struct {
	Completed   bool         `json:"completed"`
	Evidence    *GateOutcome `json:"evidence,omitempty"`
	LastUpdated time.Time    `json:"last_updated"`
}

// State is the interview position of one conversation. It has value
// semantics: EvaluateTurn returns a new State and never mutates its input.
// Records always carries an entry for every defined stage.
type State struct {
	Current Stage                 `json:"current_stage"`
	Records map[Stage]StageRecord `json:"stage_records"`
}

// NewState returns the initial state: first stage, every record incomplete.
func NewState(now time.Time) State {
	st := State{Current: StageInitial, Records: make(map[Stage]StageRecord, len(stageNames))}
	for _, stage := range Stages() {
		st.Records[stage] = StageRecord{LastUpdated: now}
	}
	return st
}

// Normalize backfills records for stages missing from a stored state, so a
// state persisted before a stage was added still satisfies the
// entry-per-stage invariant.
func (st State) Normalize(now time.Time) State {
	out := st.clone()
	if out.Records == nil {
		out.Records = make(map[Stage]StageRecord, len(stageNames))
	}
	for _, stage := range Stages() {
		if _, ok := out.Records[stage]; !ok {
			out.Records[stage] = StageRecord{LastUpdated: now}
		}
	}
	return out
}

func (st State) clone() State {
	out := State{Current: st.Current}
	if st.Records != nil {
		out.Records = make(map[Stage]StageRecord, len(st.Records))
		for k, v := range st.Records {
			if v.Evidence != nil {
				ev := *v.Evidence
				v.Evidence = &ev
			}
			out.Records[k] = v
		}
	}
	return out
}

// Result is the outcome of evaluating one turn.
type Result struct {
	State     State
	Advanced  bool
	From, To  Stage
	Evaluated bool        // whether the classifier ran this turn
	Outcome   GateOutcome // meaningful only when Evaluated
}

// Machine owns the stage transition rules.
type Machine struct {
	classifier *Classifier
	now        func() time.Time
}

func NewMachine(classifier *Classifier) *Machine {
	return &Machine{classifier: classifier, now: func() time.Time { return time.Now().UTC() }}
}

// EvaluateTurn decides whether the latest message completes the current stage
// and, if so, advances to the successor. An already-complete record is
// treated as satisfied without re-invoking the classifier, so retried turns
// stay idempotent and cheap. The terminal stage never advances.
func (m *Machine) EvaluateTurn(ctx context.Context, st State, latest string) Result {
	st = st.clone()
	res := Result{State: st}

	if st.Current.Terminal() {
		return res
	}

	rec := st.Records[st.Current]
	satisfied := rec.Completed
	if !satisfied {
		res.Evaluated = true
		res.Outcome = m.classifier.Evaluate(ctx, st.Current, latest)
		satisfied = res.Outcome.Satisfied()
	}
	if !satisfied {
		return res
	}

	now := m.now()
	if !rec.Completed {
		rec.Completed = true
		outcome := res.Outcome
		rec.Evidence = &outcome
		rec.LastUpdated = now
		st.Records[st.Current] = rec
	}

	next, ok := st.Current.Next()
	if !ok {
		return res
	}
	res.Advanced = true
	res.From = st.Current
	res.To = next
	st.Current = next
	res.State = st
	return res
}
