package labels

import (
	"fmt"

	"github.com/quantfold/marketetl/internal/timeseries"
)

// Policy names accepted in configuration.
const (
	PolicyBinarySign       = "binary-sign"
	PolicyTernaryThreshold = "ternary-threshold"
)

// Policy turns a forward return into a discrete directional class.
type Policy interface {
	Name() string
	// Classify maps the raw and vol-scaled forward return of one row to a
	// class. ok is false when the inputs leave the class undefined.
	Classify(raw, volScaled float64) (class int, ok bool)
}

// BinarySign classifies on the sign of the raw return: 1 up, -1 down.
// A flat close counts as down.
type BinarySign struct{}

func (BinarySign) Name() string { return PolicyBinarySign }

func (BinarySign) Classify(raw, _ float64) (int, bool) {
	if timeseries.IsMissing(raw) {
		return 0, false
	}
	if raw > 0 {
		return 1, true
	}
	return -1, true
}

// TernaryThreshold classifies the vol-scaled return with a dead zone:
// above +Threshold up, below -Threshold down, otherwise flat (0).
type TernaryThreshold struct {
	Threshold float64
}

func (TernaryThreshold) Name() string { return PolicyTernaryThreshold }

func (p TernaryThreshold) Classify(_, volScaled float64) (int, bool) {
	if timeseries.IsMissing(volScaled) {
		return 0, false
	}
	switch {
	case volScaled > p.Threshold:
		return 1, true
	case volScaled < -p.Threshold:
		return -1, true
	default:
		return 0, true
	}
}

// PolicyFromName resolves a configured policy name.
func PolicyFromName(name string, threshold float64) (Policy, error) {
	switch name {
	case PolicyBinarySign:
		return BinarySign{}, nil
	case PolicyTernaryThreshold:
		return TernaryThreshold{Threshold: threshold}, nil
	default:
		return nil, fmt.Errorf("unknown label policy %q", name)
	}
}
