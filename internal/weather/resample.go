package weather

import (
	"sort"
	"time"
)

// Grid is the canonical UTC time axis shared by every series of a run.
type Grid struct {
	Start time.Time
	Step  time.Duration
	Count int
}

// NewGrid builds the grid covering horizon from now, starting at now
// truncated to the step. A horizon shorter than one step yields one point.
func NewGrid(now time.Time, step, horizon time.Duration) Grid {
	n := int(horizon / step)
	if horizon%step != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	return Grid{Start: now.UTC().Truncate(step), Step: step, Count: n}
}

// At returns the i-th timestamp.
func (g Grid) At(i int) time.Time {
	return g.Start.Add(time.Duration(i) * g.Step)
}

// End returns the timestamp one step past the last point.
func (g Grid) End() time.Time {
	return g.At(g.Count)
}

// Times returns every grid timestamp.
func (g Grid) Times() []time.Time {
	out := make([]time.Time, g.Count)
	for i := range out {
		out[i] = g.At(i)
	}
	return out
}

// Point is one observation of a single variable.
type Point struct {
	Time  time.Time
	Value float64
}

// Policy fills a grid timestamp that falls strictly between two source points.
// before and after are the bracketing points.
type Policy interface {
	Fill(before, after Point, t time.Time) float64
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(before, after Point, t time.Time) float64

func (f PolicyFunc) Fill(before, after Point, t time.Time) float64 {
	return f(before, after, t)
}

// Interpolation policies.
var (
	Linear PolicyFunc = func(b, a Point, t time.Time) float64 {
		span := a.Time.Sub(b.Time)
		if span <= 0 {
			return b.Value
		}
		frac := float64(t.Sub(b.Time)) / float64(span)
		return b.Value + (a.Value-b.Value)*frac
	}

	Nearest PolicyFunc = func(b, a Point, t time.Time) float64 {
		if t.Sub(b.Time) <= a.Time.Sub(t) {
			return b.Value
		}
		return a.Value
	}

	LastKnown PolicyFunc = func(b, _ Point, _ time.Time) float64 {
		return b.Value
	}
)

// ResampleOptions control alignment of source records to the grid.
type ResampleOptions struct {
	// MaxSkew is the largest offset at which a source record is snapped to a
	// grid point as-is.
	MaxSkew time.Duration
	// MaxGap is the largest spacing between two source records that may be
	// bridged by a policy. Wider gaps leave the grid point missing.
	MaxGap time.Duration
	// Policies override the default per variable policy.
	Policies map[Variable]Policy
}

func (o ResampleOptions) policy(v Variable) Policy {
	if p, ok := o.Policies[v]; ok && p != nil {
		return p
	}
	if v.Continuous() {
		return Linear
	}
	return LastKnown
}

// Resample aligns a series onto the grid. The result has one value map per
// grid point; a variable absent from a map is missing at that point. Values
// are never extrapolated beyond the first or last source record.
func Resample(s *Series, g Grid, opts ResampleOptions) []map[Variable]float64 {
	out := make([]map[Variable]float64, g.Count)
	for i := range out {
		out[i] = make(map[Variable]float64)
	}
	if s == nil {
		return out
	}

	for _, v := range Variables {
		points := pointsFor(s, v)
		if len(points) == 0 {
			continue
		}
		pol := opts.policy(v)
		for i := 0; i < g.Count; i++ {
			if val, ok := valueAt(points, g.At(i), pol, opts); ok {
				out[i][v] = val
			}
		}
	}
	return out
}

func pointsFor(s *Series, v Variable) []Point {
	var points []Point
	for _, r := range s.Records {
		if val, ok := r.Values[v]; ok {
			points = append(points, Point{Time: r.Time, Value: val})
		}
	}
	return points
}

func valueAt(points []Point, t time.Time, pol Policy, opts ResampleOptions) (float64, bool) {
	idx := sort.Search(len(points), func(i int) bool { return !points[i].Time.Before(t) })

	// Snap to the closest record within the skew tolerance.
	best, bestDist := -1, time.Duration(0)
	for _, j := range []int{idx - 1, idx} {
		if j < 0 || j >= len(points) {
			continue
		}
		d := absDuration(points[j].Time.Sub(t))
		if d <= opts.MaxSkew && (best < 0 || d < bestDist) {
			best, bestDist = j, d
		}
	}
	if best >= 0 {
		return points[best].Value, true
	}

	if idx == 0 || idx >= len(points) {
		return 0, false
	}
	before, after := points[idx-1], points[idx]
	if opts.MaxGap > 0 && after.Time.Sub(before.Time) > opts.MaxGap {
		return 0, false
	}
	return pol.Fill(before, after, t), true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
