package counselor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ent0n29/rafiki/internal/interview"
	"github.com/ent0n29/rafiki/internal/llm"
	"github.com/ent0n29/rafiki/internal/observability"
	"github.com/ent0n29/rafiki/internal/session"
	"github.com/ent0n29/rafiki/internal/store"
)

// Apology is the single user-facing failure message. Generation and
// persistence failures both collapse to it; the taxonomy only survives in
// logs and metrics.
const Apology = "I apologize, but I'm having trouble processing your message right now. Could you please try again?"

// Failure kinds used for logging and metrics labels.
const (
	KindGeneration  = "generation"
	KindPersistence = "persistence"
)

// maxStateAttempts bounds the optimistic retry loop around the
// read-evaluate-write of the interview state.
const maxStateAttempts = 3

// Service sequences a full turn: session resolution, state evaluation, reply
// generation, persistence, failure containment.
type Service struct {
	store      store.Store
	sessions   *session.Manager
	machine    *interview.Machine
	llm        llm.Client
	metrics    *observability.Metrics
	genTimeout time.Duration

	mu    sync.Mutex
	locks map[string]*senderLock
}

// senderLock serializes the turns of one sender. refs counts holders and
// waiters so the entry can be dropped once idle.
type senderLock struct {
	mu   sync.Mutex
	refs int
}

func New(st store.Store, sessions *session.Manager, machine *interview.Machine, client llm.Client, metrics *observability.Metrics, genTimeout time.Duration) *Service {
	if genTimeout <= 0 {
		genTimeout = 30 * time.Second
	}
	return &Service{
		store:      st,
		sessions:   sessions,
		machine:    machine,
		llm:        client,
		metrics:    metrics,
		genTimeout: genTimeout,
		locks:      make(map[string]*senderLock),
	}
}

// HandleMessage runs one turn for an inbound (sender, text) pair and returns
// the reply. Every failure past the orchestrator boundary is logged and
// converted to the fixed apology; side effects performed before the failing
// step are not rolled back.
func (s *Service) HandleMessage(ctx context.Context, sender, text string) string {
	start := time.Now()
	reply, kind, err := s.handleTurn(ctx, sender, text)
	s.metrics.ObserveTurnStep(observability.StepTurnTotal, time.Since(start))
	if err != nil {
		log.Printf("counselor: turn failed for sender %s (%s): %v", sender, kind, err)
		s.metrics.TurnErrors.WithLabelValues(kind).Inc()
		s.metrics.Turns.WithLabelValues("apology").Inc()
		return Apology
	}
	s.metrics.Turns.WithLabelValues("ok").Inc()
	return reply
}

func (s *Service) handleTurn(ctx context.Context, sender, text string) (string, string, error) {
	// One sender's turns are serialized end to end, covering session
	// resolution too: a sender can only ever hold one active conversation,
	// so two concurrent first-contact turns must not both create one.
	lock := s.acquireSender(sender)
	defer s.releaseSender(sender, lock)

	stepStart := time.Now()
	conv, created, err := s.sessions.Resolve(ctx, sender)
	if err != nil {
		return "", KindPersistence, err
	}
	s.metrics.ObserveTurnStep(observability.StepResolve, time.Since(stepStart))
	if created {
		s.metrics.ConversationEvents.WithLabelValues("created").Inc()
	} else {
		s.metrics.ConversationEvents.WithLabelValues("reused").Inc()
	}

	if _, err := s.store.AppendMessage(ctx, store.Message{
		ConversationID: conv.ID,
		Role:           llm.RoleUser,
		Content:        text,
	}); err != nil {
		return "", KindPersistence, fmt.Errorf("append inbound message: %w", err)
	}

	stepStart = time.Now()
	res, msgs, err := s.evaluateState(ctx, conv.ID, text)
	if err != nil {
		return "", KindPersistence, err
	}
	s.metrics.ObserveTurnStep(observability.StepEvaluate, time.Since(stepStart))

	stepStart = time.Now()
	reply, err := s.generateReply(ctx, res.State.Current, msgs)
	s.metrics.ObserveTurnStep(observability.StepGenerate, time.Since(stepStart))
	if err != nil {
		return "", KindGeneration, fmt.Errorf("generate reply: %w", err)
	}

	if res.Advanced {
		reply = reply + "\n\n" + interview.Handoff(res.To)
		s.metrics.StageTransitions.WithLabelValues(res.To.String()).Inc()
	}

	stepStart = time.Now()
	if _, err := s.store.AppendMessage(ctx, store.Message{
		ConversationID: conv.ID,
		Role:           llm.RoleAssistant,
		Content:        reply,
	}); err != nil {
		return "", KindPersistence, fmt.Errorf("append assistant message: %w", err)
	}
	if err := s.sessions.Touch(ctx, conv.ID); err != nil {
		return "", KindPersistence, err
	}
	s.metrics.ObserveTurnStep(observability.StepPersist, time.Since(stepStart))

	return reply, "", nil
}

// evaluateState runs the read-evaluate-write sequence under optimistic
// versioning, retrying on conflict. The state record is written through on
// every attempt regardless of whether the stage advanced, so a crash loses
// at most one turn. It returns the evaluation result and the transcript
// loaded for it, which already ends with the inbound message.
func (s *Service) evaluateState(ctx context.Context, conversationID, inbound string) (interview.Result, []store.Message, error) {
	var conflictErr error
	for attempt := 0; attempt < maxStateAttempts; attempt++ {
		st, version, err := s.loadState(ctx, conversationID)
		if err != nil {
			return interview.Result{}, nil, err
		}

		msgs, err := s.store.Messages(ctx, conversationID)
		if err != nil {
			return interview.Result{}, nil, fmt.Errorf("load transcript: %w", err)
		}

		var boundary *time.Time
		last, err := s.store.LastTransition(ctx, conversationID)
		if err == nil {
			boundary = &last.At
		} else if !errors.Is(err, store.ErrNotFound) {
			return interview.Result{}, nil, fmt.Errorf("load last transition: %w", err)
		}

		evidence := interview.SinceLastTransition(msgs, boundary)
		latest := inbound
		if n := len(evidence); n > 0 {
			latest = evidence[n-1].Content
		}

		evalStart := time.Now()
		res := s.machine.EvaluateTurn(ctx, st, latest)
		if res.Evaluated {
			if res.Outcome.SemanticChecked {
				s.metrics.ObserveLLMLatency("classifier", time.Since(evalStart))
			}
			s.recordGateMetrics(st.Current, res.Outcome)
		}

		data, err := json.Marshal(res.State)
		if err != nil {
			return interview.Result{}, nil, fmt.Errorf("marshal state: %w", err)
		}
		_, err = s.store.SaveState(ctx, store.StateRecord{
			ConversationID: conversationID,
			Data:           data,
			Version:        version,
		})
		if errors.Is(err, store.ErrVersionConflict) {
			conflictErr = err
			continue
		}
		if err != nil {
			return interview.Result{}, nil, fmt.Errorf("save state: %w", err)
		}

		if res.Advanced {
			if err := s.store.AppendTransition(ctx, store.Transition{
				ConversationID: conversationID,
				FromStage:      res.From.String(),
				ToStage:        res.To.String(),
				At:             time.Now().UTC(),
			}); err != nil {
				return interview.Result{}, nil, fmt.Errorf("append transition: %w", err)
			}
		}
		return res, msgs, nil
	}
	return interview.Result{}, nil, fmt.Errorf("save state after %d attempts: %w", maxStateAttempts, conflictErr)
}

func (s *Service) loadState(ctx context.Context, conversationID string) (interview.State, int64, error) {
	rec, err := s.store.LoadState(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return interview.NewState(time.Now().UTC()), 0, nil
	}
	if err != nil {
		return interview.State{}, 0, fmt.Errorf("load state: %w", err)
	}

	var st interview.State
	if err := json.Unmarshal(rec.Data, &st); err != nil {
		return interview.State{}, 0, fmt.Errorf("decode state: %w", err)
	}
	return st.Normalize(time.Now().UTC()), rec.Version, nil
}

func (s *Service) generateReply(ctx context.Context, stage interview.Stage, msgs []store.Message) (string, error) {
	prompt := make([]llm.Message, 0, interview.GenerationWindow+1)
	prompt = append(prompt, llm.Message{Role: llm.RoleSystem, Content: interview.SystemPrompt(stage)})
	prompt = append(prompt, interview.ForGeneration(msgs, interview.GenerationWindow)...)

	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	defer cancel()

	start := time.Now()
	reply, err := s.llm.Generate(genCtx, prompt)
	s.metrics.ObserveLLMLatency("generation", time.Since(start))
	return reply, err
}

func (s *Service) recordGateMetrics(stage interview.Stage, o interview.GateOutcome) {
	name := stage.String()
	s.metrics.ClassifierGates.WithLabelValues(name, "keyword", result(o.Keyword)).Inc()
	s.metrics.ClassifierGates.WithLabelValues(name, "length", result(o.Length)).Inc()
	if o.SemanticChecked {
		s.metrics.ClassifierGates.WithLabelValues(name, "semantic", result(o.Relevant)).Inc()
		if !o.Relevant {
			s.metrics.ObserveTurnIndicator("gate_semantic_fail")
		}
	}
}

func result(pass bool) string {
	if pass {
		return "pass"
	}
	return "fail"
}

func (s *Service) acquireSender(sender string) *senderLock {
	s.mu.Lock()
	l, ok := s.locks[sender]
	if !ok {
		l = &senderLock{}
		s.locks[sender] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Service) releaseSender(sender string, l *senderLock) {
	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, sender)
	}
	s.mu.Unlock()
}
