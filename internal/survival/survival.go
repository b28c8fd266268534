// Package survival fits Kaplan-Meier curves and a Cox proportional hazards
// model to hand-over intervals.
package survival

import (
	"errors"
	"fmt"

	"github.com/star/starcover/internal/geo"
	"github.com/star/starcover/internal/handover"
)

var (
	ErrInsufficientData = errors.New("survival: fewer than 2 observed hand-over intervals")
	ErrSingular         = errors.New("survival: information matrix is singular")
)

// MinEvents is the smallest number of observed intervals Fit accepts.
const MinEvents = 2

// Observation is one interval with its covariates.
type Observation struct {
	Minutes          float64
	Event            bool // false when the interval was cut off by the window
	FromElevationDeg float64
	Direction        geo.Direction
	Rain             bool
}

// FromEvents converts hand-over events into observations. Censored events
// become censored observations.
func FromEvents(events []handover.Event) []Observation {
	obs := make([]Observation, len(events))
	for i, e := range events {
		obs[i] = Observation{
			Minutes:          e.IntervalMinutes(),
			Event:            !e.Censored,
			FromElevationDeg: e.FromElevationDeg,
			Direction:        e.Direction,
			Rain:             e.Rain,
		}
	}
	return obs
}

// Elevation groups of the starting elevation. Each is closed-open except the
// last, which includes 90°.
var ElevationGroups = []string{"[0,30)", "[30,45)", "[45,60)", "[60,90]"}

// ElevationGroup returns the group label for an elevation. Values below 0
// fall in the first group and values above 90 in the last.
func ElevationGroup(deg float64) string {
	switch {
	case deg < 30:
		return ElevationGroups[0]
	case deg < 45:
		return ElevationGroups[1]
	case deg < 60:
		return ElevationGroups[2]
	default:
		return ElevationGroups[3]
	}
}

// RainGroup labels the rain covariate.
func RainGroup(rain bool) string {
	if rain {
		return "rain"
	}
	return "dry"
}

// Model is everything fitted for one run.
type Model struct {
	N           int       `json:"n"`
	Events      int       `json:"events"`
	Overall     Curve     `json:"overall"`
	ByElevation []Curve   `json:"by_elevation"`
	ByRain      []Curve   `json:"by_rain"`
	Cox         *CoxModel `json:"cox,omitempty"`
	CoxError    string    `json:"cox_error,omitempty"`
}

// Fit fits every curve and the Cox model. It returns ErrInsufficientData
// when fewer than MinEvents intervals were observed. A Cox fit that fails on
// its own leaves Cox nil and records the reason in CoxError; the curves are
// still returned.
func Fit(events []handover.Event) (*Model, error) {
	obs := FromEvents(events)
	n := countEvents(obs)
	if n < MinEvents {
		return nil, fmt.Errorf("%w: have %d", ErrInsufficientData, n)
	}

	m := &Model{
		N:       len(obs),
		Events:  n,
		Overall: KaplanMeier(obs, "overall"),
	}
	m.ByElevation = stratify(obs, ElevationGroups, func(o Observation) string {
		return ElevationGroup(o.FromElevationDeg)
	})
	m.ByRain = stratify(obs, []string{"dry", "rain"}, func(o Observation) string {
		return RainGroup(o.Rain)
	})

	cox, err := FitCox(obs)
	if err != nil {
		m.CoxError = err.Error()
	} else {
		m.Cox = cox
	}
	return m, nil
}

// stratify fits one curve per non-empty level, in the order given.
func stratify(obs []Observation, levels []string, key func(Observation) string) []Curve {
	groups := make(map[string][]Observation, len(levels))
	for _, o := range obs {
		k := key(o)
		groups[k] = append(groups[k], o)
	}
	var out []Curve
	for _, level := range levels {
		if g := groups[level]; len(g) > 0 {
			out = append(out, KaplanMeier(g, level))
		}
	}
	return out
}

func countEvents(obs []Observation) int {
	var n int
	for _, o := range obs {
		if o.Event {
			n++
		}
	}
	return n
}
