package survival

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// ConfidenceLevel of the Kaplan-Meier bands.
const ConfidenceLevel = 0.95

// Point is one step of a Kaplan-Meier curve.
type Point struct {
	Minutes  float64 `json:"time_minutes"`
	NRisk    int     `json:"n_risk"`
	NEvent   int     `json:"n_event"`
	NCensor  int     `json:"n_censor"`
	Survival float64 `json:"survival"`
	StdErr   float64 `json:"std_err"`
	Lower    float64 `json:"lower"`
	Upper    float64 `json:"upper"`
}

// Curve is a Kaplan-Meier estimate for one stratum.
type Curve struct {
	Stratum string  `json:"stratum"`
	N       int     `json:"n"`
	Events  int     `json:"events"`
	Points  []Point `json:"points"`

	// MedianMinutes is the first time survival drops to 0.5 or below; nil
	// when the curve never gets there.
	MedianMinutes *float64 `json:"median_minutes"`
}

// KaplanMeier estimates the survival curve of obs with Greenwood standard
// errors and log-transformed confidence bands. There is one point per
// distinct observed time.
func KaplanMeier(obs []Observation, stratum string) Curve {
	c := Curve{Stratum: stratum, N: len(obs), Events: countEvents(obs)}
	if len(obs) == 0 {
		return c
	}

	sorted := make([]Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Minutes < sorted[j].Minutes })

	z := distuv.UnitNormal.Quantile(1 - (1-ConfidenceLevel)/2)
	s := 1.0
	var greenwood float64
	atRisk := len(sorted)

	for i := 0; i < len(sorted); {
		t := sorted[i].Minutes
		var d, censored int
		j := i
		for ; j < len(sorted) && sorted[j].Minutes == t; j++ {
			if sorted[j].Event {
				d++
			} else {
				censored++
			}
		}

		if d > 0 {
			s *= 1 - float64(d)/float64(atRisk)
			if atRisk > d {
				greenwood += float64(d) / (float64(atRisk) * float64(atRisk-d))
			} else {
				greenwood = math.Inf(1)
			}
		}

		p := Point{Minutes: t, NRisk: atRisk, NEvent: d, NCensor: censored, Survival: s}
		if s > 0 && !math.IsInf(greenwood, 1) {
			se := math.Sqrt(greenwood)
			p.StdErr = s * se
			p.Lower = s * math.Exp(-z*se)
			p.Upper = math.Min(1, s*math.Exp(z*se))
		}
		c.Points = append(c.Points, p)

		if c.MedianMinutes == nil && s <= 0.5 {
			m := t
			c.MedianMinutes = &m
		}

		atRisk -= j - i
		i = j
	}
	return c
}

// At returns the survival probability just after minutes.
func (c Curve) At(minutes float64) float64 {
	s := 1.0
	for _, p := range c.Points {
		if p.Minutes > minutes {
			break
		}
		s = p.Survival
	}
	return s
}
