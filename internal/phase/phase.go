package phase

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Phase is a risk tier governing how much trading authority a strategy holds.
// Values are totally ordered; normal advancement moves exactly one step.
type Phase int

const (
	Experience Phase = iota
	ProofOfConcept
	RealMoneyTrial
	Scaling
)

// ErrUnknownPhase is returned when a token does not name a phase.
var ErrUnknownPhase = errors.New("unknown phase")

var tokens = [...]string{
	Experience:     "experience",
	ProofOfConcept: "proof",
	RealMoneyTrial: "trial",
	Scaling:        "scaling",
}

var names = [...]string{
	Experience:     "Experience",
	ProofOfConcept: "ProofOfConcept",
	RealMoneyTrial: "RealMoneyTrial",
	Scaling:        "Scaling",
}

// All returns every phase in ascending order.
func All() []Phase {
	return []Phase{Experience, ProofOfConcept, RealMoneyTrial, Scaling}
}

// Parse converts a serialized token into a Phase.
func Parse(token string) (Phase, error) {
	t := strings.ToLower(strings.TrimSpace(token))
	for i, tok := range tokens {
		if tok == t {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPhase, token)
}

// Valid reports whether p is one of the four defined phases.
func (p Phase) Valid() bool {
	return p >= Experience && p <= Scaling
}

// Token returns the short lowercase serialization of p.
func (p Phase) Token() string {
	if !p.Valid() {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return tokens[p]
}

func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return names[p]
}

// Next returns the phase one step above p. ok is false at the top tier.
func (p Phase) Next() (next Phase, ok bool) {
	if !p.Valid() || p == Scaling {
		return p, false
	}
	return p + 1, true
}

// IsNextOf reports whether p is exactly one step above prev.
func (p Phase) IsNextOf(prev Phase) bool {
	next, ok := prev.Next()
	return ok && next == p
}

func (p Phase) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPhase, int(p))
	}
	return []byte(tokens[p]), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Phase) MarshalYAML() (interface{}, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPhase, int(p))
	}
	return tokens[p], nil
}

func (p *Phase) UnmarshalYAML(node *yaml.Node) error {
	var token string
	if err := node.Decode(&token); err != nil {
		return err
	}
	return p.UnmarshalText([]byte(token))
}
