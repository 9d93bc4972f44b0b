package engine

import (
	"time"

	"github.com/rs/zerolog"

	"btc-dominance-alerts/internal/market"
)

// AlertEvent is an immutable emitted alert. (Rule, Asset, TriggeredAt) is the
// dedup key; the evaluator never produces the same key twice within a cooldown.
type AlertEvent struct {
	Rule        string
	Asset       market.Asset
	TriggeredAt time.Time
	Payload     map[string]string
}

type stateKey struct {
	rule  string
	asset string
}

type alertPhase int

const (
	phaseIdle alertPhase = iota
	phaseCoolingDown
)

type alertState struct {
	phase alertPhase
	until time.Time
}

// Evaluator runs the rule set once per cycle and owns the per-(rule, asset)
// cooldown state machine: IDLE → TRIGGERED (emit, transient) → COOLING_DOWN →
// IDLE once the cooldown elapses. The state must only ever be touched by the
// evaluation loop.
type Evaluator struct {
	rules    []Rule
	cooldown time.Duration
	states   map[stateKey]*alertState
	logger   zerolog.Logger
}

// NewEvaluator builds an evaluator with fresh state.
func NewEvaluator(rules []Rule, cooldown time.Duration, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		rules:    rules,
		cooldown: cooldown,
		states:   make(map[stateKey]*alertState),
		logger:   logger.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate performs one pass over all rules against the cycle input and returns
// the events that fired. A (rule, asset) pair in cooldown stays silent even if
// its predicate holds every cycle; once the cooldown elapses it may re-trigger.
func (e *Evaluator) Evaluate(input CycleInput) []AlertEvent {
	e.expire(input.AsOf)

	var events []AlertEvent
	for _, rule := range e.rules {
		for _, match := range rule.Matches(input) {
			key := stateKey{rule: rule.Name(), asset: match.Asset.Symbol}
			state, ok := e.states[key]
			if !ok {
				state = &alertState{}
				e.states[key] = state
			}

			if state.phase == phaseCoolingDown {
				e.logger.Debug().
					Str("rule", key.rule).
					Str("asset", key.asset).
					Time("until", state.until).
					Msg("suppressed by cooldown")
				continue
			}

			state.phase = phaseCoolingDown
			state.until = input.AsOf.Add(e.cooldown)

			events = append(events, AlertEvent{
				Rule:        rule.Name(),
				Asset:       match.Asset,
				TriggeredAt: input.AsOf,
				Payload:     match.Payload,
			})
		}
	}
	return events
}

// expire moves cooled-down pairs back to idle, independent of predicate state.
func (e *Evaluator) expire(asOf time.Time) {
	for key, state := range e.states {
		if state.phase == phaseCoolingDown && !asOf.Before(state.until) {
			delete(e.states, key)
		}
	}
}
