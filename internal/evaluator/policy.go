package evaluator

import (
	"fmt"
	"strings"
	"time"

	"github.com/okieraised/relay-controller/internal/config"
	"github.com/okieraised/relay-controller/internal/constants"
)

// Policy decides when a rule whose condition holds dispatches its actions.
type Policy string

const (
	// PolicyEdge fires on a false (or unknown) to true transition, at most once per cooldown.
	PolicyEdge Policy = "edge"
	// PolicyEdgeOrCooldown also re-fires while the condition stays true, once the cooldown has elapsed.
	PolicyEdgeOrCooldown Policy = "edge_or_cooldown"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyEdge, PolicyEdgeOrCooldown:
		return p, nil
	case "":
		return PolicyEdgeOrCooldown, nil
	default:
		return "", fmt.Errorf("unknown firing policy %q", s)
	}
}

// shouldFire applies the policy to one evaluation. wasTrue is false when the
// previous condition was false or never evaluated.
func (p Policy) shouldFire(cond, wasTrue bool, lastFired, now time.Time, cooldown time.Duration) bool {
	if !cond {
		return false
	}
	cooled := lastFired.IsZero() || now.Sub(lastFired) >= cooldown
	if !cooled {
		return false
	}
	if !wasTrue {
		return true
	}
	return p == PolicyEdgeOrCooldown
}

type Config struct {
	Policy   Policy
	Cooldown time.Duration
}

func DefaultConfig() Config {
	return Config{Policy: Policy(constants.DefaultFiringPolicy), Cooldown: constants.DefaultCooldown}
}

func ConfigFromViper() (Config, error) {
	d := DefaultConfig()
	p, err := ParsePolicy(config.String(config.EvaluatorFiringPolicy, string(d.Policy)))
	if err != nil {
		return d, err
	}
	return Config{
		Policy:   p,
		Cooldown: config.Duration(config.EvaluatorCooldown, d.Cooldown),
	}, nil
}
