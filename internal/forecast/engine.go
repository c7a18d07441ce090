package forecast

import (
	"github.com/pvcast/pvcast/internal/solar"
	"github.com/pvcast/pvcast/internal/topology"
)

// AggregateInverter combines the arrays of one inverter. A string inverter
// sums DC first, applies its curve and clipping once, and allocates the AC
// back to arrays in proportion to their DC. Microinverter arrays are already
// clipped per unit and are summed directly. A gap in any array makes the
// inverter sample a gap.
func AggregateInverter(spec topology.InverterSpec, micro bool, arrays []ArraySeries) InverterSeries {
	out := InverterSeries{Microinverter: micro}

	modules := 0
	n := 0
	for _, a := range arrays {
		modules += a.Modules
		if len(a.Outputs) > n {
			n = len(a.Outputs)
		}
	}
	out.Nameplate = spec.Paco
	if micro {
		out.Nameplate = spec.Paco * float64(modules)
	}

	// Copy outputs so allocation does not touch the callers' arrays.
	out.Arrays = make([]ArraySeries, len(arrays))
	for i, a := range arrays {
		out.Arrays[i] = ArraySeries{Key: a.Key, Modules: a.Modules, Outputs: append(a.Outputs[:0:0], a.Outputs...)}
	}

	out.Samples = make([]Sample, n)
	for t := 0; t < n; t++ {
		s := Sample{Valid: true}
		var dc, ac float64
		for _, a := range out.Arrays {
			if t >= len(a.Outputs) {
				s.Valid = false
				s.GapReason = "array series too short"
				continue
			}
			o := a.Outputs[t]
			s.Time = o.Time
			if !o.Valid {
				if s.Valid {
					s.GapReason = a.Key.Array + ": " + o.GapReason
				}
				s.Valid = false
				continue
			}
			dc += o.DC
			ac += o.AC
		}
		if !s.Valid {
			out.Samples[t] = s
			continue
		}

		s.DC = dc
		if micro {
			s.AC = ac
			if ac >= out.Nameplate && ac > 0 {
				out.Clipped++
			}
		} else {
			s.AC = solar.PVWattsInverter(dc, spec.Paco, spec.NominalEfficiency)
			if dc >= spec.Pdc0() && dc > 0 {
				out.Clipped++
			}
			for i := range out.Arrays {
				o := &out.Arrays[i].Outputs[t]
				if dc > 0 {
					o.AC = s.AC * o.DC / dc
				} else {
					o.AC = 0
				}
			}
		}
		out.Samples[t] = s
	}
	return out
}

// AggregatePlant sums inverter samples pointwise. A plant sample is defined
// only where every inverter sample is valid.
func AggregatePlant(inverters []InverterSeries) PlantSeries {
	out := PlantSeries{Inverters: inverters}
	series := make([][]Sample, len(inverters))
	for i, inv := range inverters {
		out.Capacity += inv.Nameplate
		series[i] = inv.Samples
	}
	out.Samples = SumSamples(series)
	return out
}

// SumSamples adds aligned sample series pointwise. A gap in any input is a
// gap in the sum.
func SumSamples(series [][]Sample) []Sample {
	n := 0
	for _, s := range series {
		if len(s) > n {
			n = len(s)
		}
	}

	out := make([]Sample, n)
	for t := 0; t < n; t++ {
		sum := Sample{Valid: true}
		for _, s := range series {
			if t >= len(s) {
				sum.Valid = false
				continue
			}
			sum.Time = s[t].Time
			if !s[t].Valid {
				if sum.Valid {
					sum.GapReason = s[t].GapReason
				}
				sum.Valid = false
				continue
			}
			sum.AC += s[t].AC
			sum.DC += s[t].DC
		}
		if !sum.Valid {
			sum.AC, sum.DC = 0, 0
		}
		out[t] = sum
	}
	return out
}
