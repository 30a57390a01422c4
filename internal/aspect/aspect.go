// Package aspect defines the ordered signal aspect shared by the occupancy
// engine, the movement authority service and the actuation layer.
package aspect

import "fmt"

// Aspect is totally ordered by severity: Proceed < ProceedWithCaution < Caution < Stop.
type Aspect int

const (
	Proceed Aspect = iota
	ProceedWithCaution
	Caution
	Stop
)

var names = [...]string{"PROCEED", "PROCEED_WITH_CAUTION", "CAUTION", "STOP"}

func (a Aspect) String() string {
	if a < Proceed || a > Stop {
		return fmt.Sprintf("Aspect(%d)", int(a))
	}
	return names[a]
}

// Degrade returns the aspect one severity step worse. Stop stays Stop.
func (a Aspect) Degrade() Aspect {
	if a >= Stop {
		return Stop
	}
	return a + 1
}

// MoreSevereThan reports whether a is strictly more restrictive than b.
func (a Aspect) MoreSevereThan(b Aspect) bool { return a > b }

// MostSevere returns the most restrictive of the given aspects, or Proceed when none are given.
func MostSevere(as ...Aspect) Aspect {
	out := Proceed
	for _, a := range as {
		if a > out {
			out = a
		}
	}
	return out
}

// Parse converts a name produced by String back into an Aspect.
func Parse(s string) (Aspect, error) {
	for i, n := range names {
		if n == s {
			return Aspect(i), nil
		}
	}
	return Proceed, fmt.Errorf("unknown aspect %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (a Aspect) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Aspect) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
