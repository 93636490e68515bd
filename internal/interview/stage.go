package interview

import "fmt"

// Stage is one ordered topic of the fixed interview sequence. The zero value
// is the opening stage; StageRecommendations is terminal and has no successor.
type Stage int

const (
	StageInitial Stage = iota
	StageInterests
	StageSkills
	StageChallenges
	StageAspirations
	StageRecommendations
)

var stageNames = [...]string{
	StageInitial:         "initial",
	StageInterests:       "interests",
	StageSkills:          "skills",
	StageChallenges:      "challenges",
	StageAspirations:     "aspirations",
	StageRecommendations: "recommendations",
}

// Stages returns every stage in interview order.
func Stages() []Stage {
	out := make([]Stage, 0, len(stageNames))
	for i := range stageNames {
		out = append(out, Stage(i))
	}
	return out
}

func (s Stage) valid() bool {
	return s >= StageInitial && s <= StageRecommendations
}

func (s Stage) String() string {
	if !s.valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage maps a stored stage name back to its value.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return StageInitial, fmt.Errorf("unknown stage %q", name)
}

// MarshalText stores stages by name so persisted state survives reordering
// of the enum values.
func (s Stage) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return []byte(stageNames[s]), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Next returns the successor stage. ok is false at the terminal stage.
func (s Stage) Next() (Stage, bool) {
	if s >= StageRecommendations {
		return StageRecommendations, false
	}
	return s + 1, true
}

// Terminal reports whether the stage has no successor.
func (s Stage) Terminal() bool { return s == StageRecommendations }

// Policy is the completeness requirement for a single stage: the message must
// contain at least one keyword and reach the minimum length before the
// semantic gate is consulted.
type Policy struct {
	Keywords  []string
	MinLength int
}

// stagePolicies is indexed by Stage. The terminal stage deliberately has no
// entry: no gate is ever evaluated for it.
var stagePolicies = map[Stage]Policy{
	StageInitial: {
		Keywords:  []string{"hi", "hello", "hey", "start", "begin"},
		MinLength: 1,
	},
	StageInterests: {
		Keywords:  []string{"like", "enjoy", "love", "fun", "interest", "hobby", "passionate"},
		MinLength: 10,
	},
	StageSkills: {
		Keywords:  []string{"good at", "skill", "can", "able", "capable", "excel", "best at"},
		MinLength: 15,
	},
	StageChallenges: {
		Keywords:  []string{"challenge", "difficult", "hard", "struggle", "trying", "learning"},
		MinLength: 15,
	},
	StageAspirations: {
		Keywords:  []string{"want", "hope", "dream", "future", "goal", "plan", "aspire"},
		MinLength: 15,
	},
}

// Policy returns the stage's completion requirements. ok is false for the
// terminal stage, which carries no policy.
func (s Stage) Policy() (Policy, bool) {
	p, ok := stagePolicies[s]
	return p, ok
}
