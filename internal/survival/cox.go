package survival

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/star/starcover/internal/geo"
)

// Newton-Raphson controls.
const (
	coxMaxIter     = 30
	coxTolerance   = 1e-9
	coxMaxHalvings = 10
	coxMaxCond     = 1e12
)

// Term is one row of the Cox coefficient table.
type Term struct {
	Name        string  `json:"term"`
	Coef        float64 `json:"coef"`
	HazardRatio float64 `json:"exp_coef"`
	StdErr      float64 `json:"se"`
	Z           float64 `json:"z"`
	P           float64 `json:"p"`
}

// CoxModel is a fitted proportional hazards regression. Coefficients are log
// hazard ratios; direction terms are relative to Reference.
type CoxModel struct {
	Terms       []Term   `json:"terms"`
	Dropped     []string `json:"dropped,omitempty"`
	Reference   string   `json:"direction_reference,omitempty"`
	N           int      `json:"n"`
	Events      int      `json:"events"`
	LogLik      float64  `json:"loglik"`
	NullLogLik  float64  `json:"null_loglik"`
	Iterations  int      `json:"iterations"`
	Converged   bool     `json:"converged"`
	Concordance float64  `json:"concordance"`
}

// coxData is the centred design sorted by time.
type coxData struct {
	time  []float64
	event []bool
	x     [][]float64
	p     int
}

// FitCox regresses interval length on starting elevation, compass direction
// and rain using the Efron partial likelihood. Covariates that do not vary
// are dropped and listed in Dropped.
func FitCox(obs []Observation) (*CoxModel, error) {
	events := countEvents(obs)
	if events < MinEvents {
		return nil, fmt.Errorf("%w: have %d", ErrInsufficientData, events)
	}

	names, rows, dropped, ref := buildDesign(obs)
	data := newCoxData(obs, rows, len(names))

	m := &CoxModel{
		Dropped:   dropped,
		Reference: ref,
		N:         len(obs),
		Events:    events,
		Converged: true,
	}

	beta := make([]float64, data.p)
	ll, grad, info := data.eval(beta)
	m.NullLogLik = ll
	m.LogLik = ll
	if data.p == 0 {
		m.Concordance = 0.5
		return m, nil
	}

	m.Converged = false
	for m.Iterations < coxMaxIter {
		m.Iterations++

		step, err := newtonStep(info, grad)
		if err != nil {
			return nil, err
		}

		next := make([]float64, data.p)
		floats.AddTo(next, beta, step)
		nextLL, nextGrad, nextInfo := data.eval(next)

		for h := 0; h < coxMaxHalvings && (math.IsNaN(nextLL) || nextLL < ll); h++ {
			floats.Scale(0.5, step)
			floats.AddTo(next, beta, step)
			nextLL, nextGrad, nextInfo = data.eval(next)
		}
		if math.IsNaN(nextLL) || nextLL < ll {
			m.Converged = math.Abs(nextLL-ll) <= 1e-6*math.Abs(ll)
			break
		}

		done := math.Abs(nextLL-ll) <= coxTolerance*math.Abs(nextLL)
		beta, ll, grad, info = next, nextLL, nextGrad, nextInfo
		if done {
			m.Converged = true
			break
		}
	}
	m.LogLik = ll

	var chol mat.Cholesky
	if ok := chol.Factorize(info); !ok || chol.Cond() > coxMaxCond {
		return nil, ErrSingular
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	m.Terms = make([]Term, data.p)
	for k, name := range names {
		se := math.Sqrt(cov.At(k, k))
		if !finite(beta[k]) || !finite(se) || se == 0 {
			return nil, fmt.Errorf("%w: %s did not converge", ErrSingular, name)
		}
		z := beta[k] / se
		m.Terms[k] = Term{
			Name:        name,
			Coef:        beta[k],
			HazardRatio: math.Exp(beta[k]),
			StdErr:      se,
			Z:           z,
			P:           2 * distuv.UnitNormal.Survival(math.Abs(z)),
		}
	}
	m.Concordance = concordance(data, beta)
	return m, nil
}

// buildDesign lays out from_elevation, treatment-coded direction dummies and
// rain, then drops constant columns. The direction reference is the first
// sector present in compass order.
func buildDesign(obs []Observation) (names []string, rows [][]float64, dropped []string, ref string) {
	present := make(map[geo.Direction]bool)
	for _, o := range obs {
		present[o.Direction] = true
	}
	var levels []geo.Direction
	for _, d := range geo.Directions {
		if present[d] {
			levels = append(levels, d)
		}
	}
	if len(levels) > 0 {
		ref = levels[0].String()
		levels = levels[1:]
	}

	all := []string{"from_elevation"}
	for _, d := range levels {
		all = append(all, "direction="+d.String())
	}
	all = append(all, "rain")

	full := make([][]float64, len(obs))
	for i, o := range obs {
		row := make([]float64, 0, len(all))
		row = append(row, o.FromElevationDeg)
		for _, d := range levels {
			row = append(row, indicator(o.Direction == d))
		}
		row = append(row, indicator(o.Rain))
		full[i] = row
	}

	var keep []int
	for k, name := range all {
		if varies(full, k) {
			keep = append(keep, k)
			names = append(names, name)
		} else {
			dropped = append(dropped, name)
		}
	}

	rows = make([][]float64, len(obs))
	for i := range full {
		rows[i] = make([]float64, len(keep))
		for c, k := range keep {
			rows[i][c] = full[i][k]
		}
	}
	return names, rows, dropped, ref
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func varies(rows [][]float64, k int) bool {
	for i := 1; i < len(rows); i++ {
		if rows[i][k] != rows[0][k] {
			return true
		}
	}
	return false
}

// newCoxData sorts by time and centres each column on its mean.
func newCoxData(obs []Observation, rows [][]float64, p int) *coxData {
	idx := make([]int, len(obs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return obs[idx[a]].Minutes < obs[idx[b]].Minutes })

	means := make([]float64, p)
	col := make([]float64, len(rows))
	for k := 0; k < p; k++ {
		for i := range rows {
			col[i] = rows[i][k]
		}
		means[k] = stat.Mean(col, nil)
	}

	d := &coxData{
		time:  make([]float64, len(obs)),
		event: make([]bool, len(obs)),
		x:     make([][]float64, len(obs)),
		p:     p,
	}
	for pos, i := range idx {
		d.time[pos] = obs[i].Minutes
		d.event[pos] = obs[i].Event
		x := make([]float64, p)
		floats.SubTo(x, rows[i], means)
		d.x[pos] = x
	}
	return d
}

// eval returns the Efron log partial likelihood, its gradient and the
// observed information matrix at beta. Info is nil when there are no
// covariates.
func (d *coxData) eval(beta []float64) (float64, []float64, *mat.SymDense) {
	n, p := len(d.time), d.p
	eta := make([]float64, n)
	w := make([]float64, n)
	for i := range eta {
		eta[i] = floats.Dot(d.x[i], beta)
		w[i] = math.Exp(eta[i])
	}

	var ll float64
	grad := make([]float64, p)
	var info *mat.SymDense
	if p > 0 {
		info = mat.NewSymDense(p, nil)
	}

	// Risk set sums accumulate from the latest time backwards.
	var s0 float64
	s1 := make([]float64, p)
	s2 := make([]float64, p*p)
	e1 := make([]float64, p)
	e2 := make([]float64, p*p)
	mean := make([]float64, p)

	for i := n - 1; i >= 0; {
		t := d.time[i]
		var e0 float64
		var deaths int
		for k := range e1 {
			e1[k] = 0
		}
		for k := range e2 {
			e2[k] = 0
		}

		j := i
		for ; j >= 0 && d.time[j] == t; j-- {
			xj, wj := d.x[j], w[j]
			s0 += wj
			for a := 0; a < p; a++ {
				s1[a] += wj * xj[a]
				for b := a; b < p; b++ {
					s2[a*p+b] += wj * xj[a] * xj[b]
				}
			}
			if !d.event[j] {
				continue
			}
			deaths++
			ll += eta[j]
			floats.Add(grad, xj)
			e0 += wj
			for a := 0; a < p; a++ {
				e1[a] += wj * xj[a]
				for b := a; b < p; b++ {
					e2[a*p+b] += wj * xj[a] * xj[b]
				}
			}
		}

		for l := 0; l < deaths; l++ {
			f := float64(l) / float64(deaths)
			phi := s0 - f*e0
			ll -= math.Log(phi)
			for a := 0; a < p; a++ {
				mean[a] = (s1[a] - f*e1[a]) / phi
				grad[a] -= mean[a]
			}
			for a := 0; a < p; a++ {
				for b := a; b < p; b++ {
					v := (s2[a*p+b]-f*e2[a*p+b])/phi - mean[a]*mean[b]
					info.SetSym(a, b, info.At(a, b)+v)
				}
			}
		}
		i = j
	}
	return ll, grad, info
}

// newtonStep solves info * step = grad. Collinear covariates show up as a
// failed factorisation or an extreme condition number.
func newtonStep(info *mat.SymDense, grad []float64) ([]float64, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(info); !ok || chol.Cond() > coxMaxCond {
		return nil, ErrSingular
	}
	var step mat.VecDense
	if err := chol.SolveVecTo(&step, mat.NewVecDense(len(grad), grad)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	out := make([]float64, len(grad))
	copy(out, step.RawVector().Data)
	return out, nil
}

// concordance is Harrell's C: among pairs where the shorter interval ended
// in a hand-over, the share where it also had the higher risk score.
func concordance(d *coxData, beta []float64) float64 {
	eta := make([]float64, len(d.time))
	for i := range eta {
		eta[i] = floats.Dot(d.x[i], beta)
	}
	var agree, pairs float64
	for i := range d.time {
		if !d.event[i] {
			continue
		}
		for j := range d.time {
			if d.time[j] <= d.time[i] {
				continue
			}
			pairs++
			switch {
			case eta[i] > eta[j]:
				agree++
			case eta[i] == eta[j]:
				agree += 0.5
			}
		}
	}
	if pairs == 0 {
		return 0.5
	}
	return agree / pairs
}
