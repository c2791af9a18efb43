package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimingKind distinguishes an immediate step from a delayed one.
type TimingKind string

const (
	TimingImmediate TimingKind = "immediate"
	TimingAfter     TimingKind = "after"
)

// TimeUnit is the unit of an After timing rule.
type TimeUnit string

const (
	UnitHours TimeUnit = "hours"
	UnitDays  TimeUnit = "days"
)

func (u TimeUnit) IsValid() bool {
	switch u {
	case UnitHours, UnitDays:
		return true
	}
	return false
}

// TimingRule is relative to enrollment for step 1 and to the previous send
// for every later step.
type TimingRule struct {
	Kind   TimingKind
	Amount int
	Unit   TimeUnit
}

func Immediate() TimingRule {
	return TimingRule{Kind: TimingImmediate}
}

func After(amount int, unit TimeUnit) TimingRule {
	return TimingRule{Kind: TimingAfter, Amount: amount, Unit: unit}
}

func (r TimingRule) Validate() error {
	switch r.Kind {
	case TimingImmediate:
		return nil
	case TimingAfter:
		if r.Amount < 0 {
			return fmt.Errorf("%w: timing amount must not be negative", ErrValidation)
		}
		if !r.Unit.IsValid() {
			return fmt.Errorf("%w: invalid timing unit %q", ErrValidation, r.Unit)
		}
		return nil
	default:
		return fmt.Errorf("%w: invalid timing kind %q", ErrValidation, r.Kind)
	}
}

// Duration returns the offset the rule adds to its base timestamp.
func (r TimingRule) Duration() time.Duration {
	if r.Kind != TimingAfter {
		return 0
	}
	switch r.Unit {
	case UnitHours:
		return time.Duration(r.Amount) * time.Hour
	case UnitDays:
		return time.Duration(r.Amount) * 24 * time.Hour
	default:
		return 0
	}
}

func (r TimingRule) String() string {
	if r.Kind == TimingAfter {
		return fmt.Sprintf("after(%d %s)", r.Amount, r.Unit)
	}
	return string(TimingImmediate)
}

// ParseTimingRule accepts "immediate" or "after" with an amount and unit.
func ParseTimingRule(kind string, amount int, unit string) (TimingRule, error) {
	rule := TimingRule{
		Kind:   TimingKind(strings.ToLower(strings.TrimSpace(kind))),
		Amount: amount,
		Unit:   TimeUnit(strings.ToLower(strings.TrimSpace(unit))),
	}
	if rule.Kind == TimingImmediate {
		rule.Amount = 0
		rule.Unit = ""
	}
	if err := rule.Validate(); err != nil {
		return TimingRule{}, err
	}
	return rule, nil
}

// SequenceStep is one templated message of a campaign. Steps are owned by
// campaign configuration and are read-only to the engine.
type SequenceStep struct {
	CampaignID      string
	StepNumber      int
	Timing          TimingRule
	SubjectTemplate string
	BodyTemplate    string
}

// Sequence is the ordered step list of one campaign together with the
// campaign's send window.
type Sequence struct {
	CampaignID string
	Window     SendWindow
	steps      map[int]SequenceStep
	maxStep    int
}

func NewSequence(campaignID string, steps []SequenceStep) Sequence {
	seq := Sequence{
		CampaignID: campaignID,
		steps:      make(map[int]SequenceStep, len(steps)),
	}
	for _, step := range steps {
		seq.steps[step.StepNumber] = step
		if step.StepNumber > seq.maxStep {
			seq.maxStep = step.StepNumber
		}
	}
	return seq
}

// MaxStep is the highest configured step number, 0 for an empty sequence.
func (s Sequence) MaxStep() int { return s.maxStep }

func (s Sequence) Step(number int) (SequenceStep, bool) {
	step, ok := s.steps[number]
	return step, ok
}

// Steps returns the steps ordered by step number.
func (s Sequence) Steps() []SequenceStep {
	out := make([]SequenceStep, 0, len(s.steps))
	for _, step := range s.steps {
		out = append(out, step)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out
}

// Validate checks that step numbers are contiguous from 1 and that the
// stored window and timing rules still parse.
func (s Sequence) Validate() error {
	if err := s.Window.Validate(); err != nil {
		return fmt.Errorf("%w: campaign %s: %v", ErrDataIntegrity, s.CampaignID, err)
	}
	for n := 1; n <= s.maxStep; n++ {
		step, ok := s.steps[n]
		if !ok {
			return fmt.Errorf("%w: campaign %s is missing step %d", ErrDataIntegrity, s.CampaignID, n)
		}
		// A stored rule that no longer parses is bad data, not bad input.
		if err := step.Timing.Validate(); err != nil {
			return fmt.Errorf("%w: campaign %s step %d: %v", ErrDataIntegrity, s.CampaignID, n, err)
		}
	}
	return nil
}
