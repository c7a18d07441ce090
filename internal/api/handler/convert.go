package handler

import (
	"strings"
	"time"

	"github.com/pvcast/pvcast/internal/api/models"
	"github.com/pvcast/pvcast/internal/forecast"
	"github.com/pvcast/pvcast/internal/topology"
)

// toForecast converts a run into the API representation. A plant other than
// "" or "all" restricts the output to that plant; the run must contain it.
// A zero interval keeps the run's step.
func toForecast(res *forecast.Result, plant string, interval time.Duration) (models.Forecast, error) {
	if interval == 0 {
		interval = res.Step
	}

	points := res.Total
	plants := res.Plants
	if plant != "" && !strings.EqualFold(plant, topology.AllPlants) {
		ps, ok := res.Plant(plant)
		if !ok {
			return models.Forecast{}, forecast.ErrRunNotFound
		}
		if res.Selection.Array == "" {
			points = ps.Samples
		}
		plants = []forecast.PlantSeries{ps}
	}

	total, err := powerPoints(points, res.Step, interval)
	if err != nil {
		return models.Forecast{}, err
	}

	out := models.Forecast{
		RunID:       res.RunID,
		Kind:        string(res.Kind),
		Plant:       res.Selection.Plant,
		Inverter:    res.Selection.Inverter,
		Array:       res.Selection.Array,
		CreatedAt:   models.Timestamp(res.CreatedAt),
		ValidFrom:   models.Timestamp(res.ValidFrom),
		ValidUntil:  models.Timestamp(res.ValidUntil),
		Interval:    interval.String(),
		Points:      total,
		Plants:      make([]models.PlantPower, 0, len(plants)),
		Sources:     toSourceSummaries(res.Sources),
		Diagnostics: toDiagnostics(res.Diagnostics),
	}
	if plant != "" {
		out.Plant = plant
	}
	if out.Plant == "" {
		out.Plant = topology.AllPlants
	}

	for _, ps := range plants {
		pp := models.PlantPower{
			Name:      ps.Name,
			CapacityW: models.Watts(ps.Capacity),
			Inverters: make([]models.InverterPower, 0, len(ps.Inverters)),
		}
		if pp.Points, err = powerPoints(ps.Samples, res.Step, interval); err != nil {
			return models.Forecast{}, err
		}
		for _, inv := range ps.Inverters {
			ip := models.InverterPower{
				Name:       inv.Name,
				NameplateW: models.Watts(inv.Nameplate),
				Clipped:    inv.Clipped,
			}
			if ip.Points, err = powerPoints(inv.Samples, res.Step, interval); err != nil {
				return models.Forecast{}, err
			}
			pp.Inverters = append(pp.Inverters, ip)
		}
		out.Plants = append(out.Plants, pp)
	}
	return out, nil
}

// powerPoints resamples and rounds a series. Gaps become null values.
func powerPoints(samples []forecast.Sample, step, interval time.Duration) ([]models.PowerPoint, error) {
	samples, err := forecast.Upsample(samples, step, interval)
	if err != nil {
		return nil, err
	}
	out := make([]models.PowerPoint, len(samples))
	for i, s := range samples {
		out[i].Time = models.Timestamp(s.Time)
		if !s.Valid {
			out[i].Gap = s.GapReason
			if out[i].Gap == "" {
				out[i].Gap = "unknown"
			}
			continue
		}
		ac, dc := models.Watts(s.AC), models.Watts(s.DC)
		out[i].ACW = &ac
		out[i].DCW = &dc
	}
	return out, nil
}

func toSourceSummaries(in []forecast.SourceSummary) []models.SourceSummary {
	if len(in) == 0 {
		return nil
	}
	out := make([]models.SourceSummary, len(in))
	for i, s := range in {
		out[i] = models.SourceSummary{
			Name:      s.Name,
			OK:        s.OK,
			ErrorKind: string(s.ErrorKind),
			Error:     s.Error,
			FetchedAt: models.TimestampPtr(s.FetchedAt),
		}
		if len(s.Contributed) > 0 {
			out[i].Contributed = make(map[string]int, len(s.Contributed))
			for v, n := range s.Contributed {
				out[i].Contributed[string(v)] = n
			}
		}
	}
	return out
}

func toDiagnostics(d forecast.Diagnostics) models.Diagnostics {
	out := models.Diagnostics{
		Gaps:           d.Gaps,
		Clipped:        d.Clipped,
		SourceFailures: d.SourceFailures,
	}
	if len(d.Clamps) > 0 {
		out.Clamps = make(map[string]int, len(d.Clamps))
		for c, n := range d.Clamps {
			out.Clamps[string(c)] = n
		}
	}
	return out
}

// toEnergy integrates the run's power into energy for one plant, or for
// every plant of the run when plant is "all".
func toEnergy(res *forecast.Result, plant string, period forecast.Period, tz *time.Location) (models.Energy, error) {
	samples := res.Total
	if !strings.EqualFold(plant, topology.AllPlants) {
		ps, ok := res.Plant(plant)
		if !ok {
			return models.Energy{}, forecast.ErrRunNotFound
		}
		samples = ps.Samples
	}

	buckets, err := forecast.EnergyBuckets(samples, res.Step, period, tz)
	if err != nil {
		return models.Energy{}, err
	}

	out := models.Energy{
		RunID:      res.RunID,
		Kind:       string(res.Kind),
		Plant:      plant,
		Period:     string(period),
		TimeZone:   tz.String(),
		Buckets:    make([]models.EnergyBucket, len(buckets)),
		Cumulative: make([]models.CumulativePoint, 0, len(samples)),
	}

	total := 0.0
	complete := true
	for i, b := range buckets {
		out.Buckets[i] = models.EnergyBucket{
			Start:    models.Timestamp(b.Start),
			End:      models.Timestamp(b.End),
			Wh:       models.Watts(b.Wh),
			Complete: b.Complete,
		}
		total += b.Wh
		complete = complete && b.Complete
	}
	if complete {
		wh := models.Watts(total)
		out.TotalWh = &wh
	}

	for _, c := range forecast.Cumulative(samples, res.Step) {
		p := models.CumulativePoint{Time: models.Timestamp(c.Time)}
		if c.Valid {
			wh := models.Watts(c.Wh)
			p.Wh = &wh
		}
		out.Cumulative = append(out.Cumulative, p)
	}
	return out, nil
}
