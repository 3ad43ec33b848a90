// Package opinion implements the subjective-logic opinion algebra used to
// turn evidence counts into trust opinions and to combine opinions across
// evidence, time and trust-graph hops.
//
// Every function is pure: inputs are values, outputs are new values, and no
// state is shared between calls.
package opinion

import (
	"errors"
	"fmt"
	"math"
)

// Tolerance is the slack allowed on the b+d+u == 1 invariant.
const Tolerance = 1e-9

var (
	// ErrInvalidArgument is returned for caller errors such as a non-positive prior.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDegenerateInput is returned when consensus fusion is asked to combine
	// two dogmatic opinions (both with zero uncertainty).
	ErrDegenerateInput = errors.New("degenerate input")
)

// Opinion is a belief/disbelief/uncertainty triple about a binary proposition.
type Opinion struct {
	B float64 `json:"b"`
	D float64 `json:"d"`
	U float64 `json:"u"`
}

// Vacuous is total ignorance.
var Vacuous = Opinion{B: 0, D: 0, U: 1}

func New(b, d, u float64) Opinion {
	return Opinion{B: b, D: d, U: u}
}

// Sum returns b+d+u.
func (o Opinion) Sum() float64 {
	return o.B + o.D + o.U
}

// Expectation is the projected probability b + a·u for base rate a.
func (o Opinion) Expectation(baseRate float64) float64 {
	return o.B + baseRate*o.U
}

// Validate checks the non-negativity and sum-to-one invariants.
func Validate(o Opinion) error {
	if math.IsNaN(o.B) || math.IsNaN(o.D) || math.IsNaN(o.U) {
		return fmt.Errorf("%w: opinion has NaN component", ErrInvalidArgument)
	}
	if o.B < -Tolerance || o.D < -Tolerance || o.U < -Tolerance {
		return fmt.Errorf("%w: opinion components must be non-negative (b=%g d=%g u=%g)", ErrInvalidArgument, o.B, o.D, o.U)
	}
	if math.Abs(o.Sum()-1) > Tolerance {
		return fmt.Errorf("%w: opinion must sum to 1, got %g", ErrInvalidArgument, o.Sum())
	}
	return nil
}

// EvidenceToOpinion maps positive (alpha) and negative (beta) evidence counts
// to an opinion. prior is the weight of "no evidence" and must be positive.
func EvidenceToOpinion(alpha, beta, prior float64) (Opinion, error) {
	if !(prior > 0) {
		return Opinion{}, fmt.Errorf("%w: prior must be positive, got %g", ErrInvalidArgument, prior)
	}
	if alpha < 0 || beta < 0 || math.IsNaN(alpha) || math.IsNaN(beta) {
		return Opinion{}, fmt.Errorf("%w: evidence counts must be non-negative (alpha=%g beta=%g)", ErrInvalidArgument, alpha, beta)
	}

	denom := alpha + beta + prior
	if denom == 0 {
		return Vacuous, nil
	}
	return Opinion{
		B: alpha / denom,
		D: beta / denom,
		U: prior / denom,
	}, nil
}

// Discount derives A's opinion about X from A's opinion about B (ab) and
// B's opinion about X (bx). Argument order matters.
func Discount(ab, bx Opinion) Opinion {
	return Opinion{
		B: ab.B * bx.B,
		D: ab.B * bx.D,
		U: ab.D + ab.U + ab.B*bx.U,
	}
}

// ConsensusFusion combines two independent opinions about the same
// proposition. Two opinions with zero uncertainty cannot be fused and yield
// ErrDegenerateInput.
func ConsensusFusion(o1, o2 Opinion) (Opinion, error) {
	k := o1.U + o2.U - o1.U*o2.U
	if k == 0 {
		return Opinion{}, fmt.Errorf("%w: cannot fuse two opinions with zero uncertainty", ErrDegenerateInput)
	}
	return Opinion{
		B: (o1.B*o2.U + o2.B*o1.U) / k,
		D: (o1.D*o2.U + o2.D*o1.U) / k,
		U: (o1.U * o2.U) / k,
	}, nil
}

// TimeDecay ages an opinion toward ignorance with the given half-life.
// Uncertainty absorbs the decayed mass so the sum stays exactly one.
func TimeDecay(o Opinion, deltaDays, halfLifeDays float64) (Opinion, error) {
	if !(halfLifeDays > 0) {
		return Opinion{}, fmt.Errorf("%w: half-life must be positive, got %g", ErrInvalidArgument, halfLifeDays)
	}
	if deltaDays < 0 || math.IsNaN(deltaDays) {
		return Opinion{}, fmt.Errorf("%w: elapsed days must be non-negative, got %g", ErrInvalidArgument, deltaDays)
	}
	return scale(o, math.Pow(0.5, deltaDays/halfLifeDays)), nil
}

// HopDecay attenuates an opinion by lambda for one trust-graph hop.
func HopDecay(o Opinion, lambda float64) (Opinion, error) {
	if !(lambda >= 0 && lambda <= 1) {
		return Opinion{}, fmt.Errorf("%w: lambda must be in [0,1], got %g", ErrInvalidArgument, lambda)
	}
	return scale(o, lambda), nil
}

func scale(o Opinion, factor float64) Opinion {
	b := o.B * factor
	d := o.D * factor
	return Opinion{B: b, D: d, U: 1 - b - d}
}
