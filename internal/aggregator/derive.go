package aggregator

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/models"
)

// DefaultSeriesLength points kept per sensor series
const DefaultSeriesLength = 20

// Snapshot point-in-time copies pulled from the backend
type Snapshot struct {
	Sensors  []models.Sensor
	Readings []models.Reading
	Alerts   []models.Alert
}

// Derivation result of Derive. Dropped* count records referencing a sensor
// that is not in the sensors snapshot.
type Derivation struct {
	View            *models.DashboardView
	DroppedReadings int
	DroppedAlerts   int
}

// Derive computes the dashboard view of snap. now fixes the "today" boundary
// (local midnight in now's location).
func Derive(snap Snapshot, now time.Time, seriesLength int) Derivation {
	if seriesLength <= 0 {
		seriesLength = DefaultSeriesLength
	}
	known := SensorIndex(snap.Sensors)
	readings, droppedReadings := FilterReadings(known, snap.Readings)
	alerts, droppedAlerts := FilterAlerts(known, snap.Alerts)

	view := &models.DashboardView{
		TotalSensors:             len(snap.Sensors),
		ActiveSensors:            CountActiveSensors(snap.Sensors),
		SensorStatusDistribution: StatusDistribution(snap.Sensors),
		TotalReadings:            len(readings),
		TodayReadings:            CountToday(readings, now),
		HumidityStats:            HumidityStats(readings),
		TemperatureStats:         TemperatureStats(readings),
		AlertLevelDistribution:   AlertLevelDistribution(known, readings),
		ReadingsPerSensor:        ReadingsPerSensor(readings),
		Series:                   SeriesPoints(BuildSeries(readings, seriesLength)),
		ActiveAlerts:             CountActiveAlerts(alerts),
		Alerts:                   alerts,
		ComputedAt:               now,
	}
	view.InactiveSensors = view.TotalSensors - view.ActiveSensors

	return Derivation{
		View:            view,
		DroppedReadings: droppedReadings,
		DroppedAlerts:   droppedAlerts,
	}
}

// SensorIndex sensors by id
func SensorIndex(sensors []models.Sensor) map[string]models.Sensor {
	idx := make(map[string]models.Sensor, len(sensors))
	for _, s := range sensors {
		idx[s.SensorID] = s
	}
	return idx
}

// FilterReadings keeps readings of known sensors; dropped is the number removed
func FilterReadings(known map[string]models.Sensor, readings []models.Reading) (kept []models.Reading, dropped int) {
	kept = make([]models.Reading, 0, len(readings))
	for _, r := range readings {
		if _, ok := known[r.SensorID]; !ok {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	return kept, dropped
}

// FilterAlerts keeps alerts of known sensors; dropped is the number removed
func FilterAlerts(known map[string]models.Sensor, alerts []models.Alert) (kept []models.Alert, dropped int) {
	kept = make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if _, ok := known[a.SensorID]; !ok {
			dropped++
			continue
		}
		kept = append(kept, a)
	}
	return kept, dropped
}

// CountActiveSensors number of sensors with status active
func CountActiveSensors(sensors []models.Sensor) int {
	n := 0
	for i := range sensors {
		if sensors[i].IsActive() {
			n++
		}
	}
	return n
}

// StatusDistribution sensors per status; every known status is present
func StatusDistribution(sensors []models.Sensor) map[models.SensorStatus]int {
	dist := make(map[models.SensorStatus]int, len(models.SensorStatuses))
	for _, status := range models.SensorStatuses {
		dist[status] = 0
	}
	for _, s := range sensors {
		if s.Status != "" {
			dist[s.Status]++
		}
	}
	return dist
}

// CountActiveAlerts number of alerts with status active
func CountActiveAlerts(alerts []models.Alert) int {
	n := 0
	for i := range alerts {
		if alerts[i].IsActive() {
			n++
		}
	}
	return n
}

// CountToday readings captured on now's local calendar date
func CountToday(readings []models.Reading, now time.Time) int {
	loc := now.Location()
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)

	n := 0
	for _, r := range readings {
		ts := r.Timestamp.In(loc)
		if !ts.Before(start) && ts.Before(end) {
			n++
		}
	}
	return n
}

// HumidityStats min/max/avg humidity over readings
func HumidityStats(readings []models.Reading) models.Stats {
	values := make([]float64, 0, len(readings))
	for _, r := range readings {
		values = append(values, r.HumidityPercentage)
	}
	return computeStats(values)
}

// TemperatureStats min/max/avg over readings that carry a temperature
func TemperatureStats(readings []models.Reading) models.Stats {
	values := make([]float64, 0, len(readings))
	for _, r := range readings {
		if r.TemperatureCelsius != nil {
			values = append(values, *r.TemperatureCelsius)
		}
	}
	return computeStats(values)
}

// computeStats zero value for an empty window; avg rounded to one decimal
func computeStats(values []float64) models.Stats {
	if len(values) == 0 {
		return models.Stats{}
	}
	st := models.Stats{Min: values[0], Max: values[0], Count: len(values)}
	var sum float64
	for _, v := range values {
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
		sum += v
	}
	st.Avg = math.Round(sum/float64(len(values))*10) / 10
	return st
}

// AlertLevelDistribution readings per alert level; all four buckets present.
// A reading without a level is classified against its sensor's thresholds.
func AlertLevelDistribution(known map[string]models.Sensor, readings []models.Reading) map[models.AlertLevel]int {
	dist := make(map[models.AlertLevel]int, len(models.AlertLevels))
	for _, level := range models.AlertLevels {
		dist[level] = 0
	}
	for _, r := range readings {
		dist[readingLevel(known, r)]++
	}
	return dist
}

func readingLevel(known map[string]models.Sensor, r models.Reading) models.AlertLevel {
	if r.AlertLevel != "" {
		return r.AlertLevel
	}
	s, ok := known[r.SensorID]
	if !ok {
		return models.AlertLevelNormal
	}
	return models.ClassifyHumidity(int(math.Round(r.HumidityPercentage)), s.MinHumidityThreshold, s.MaxHumidityThreshold)
}

// ReadingsPerSensor reading count per sensor id
func ReadingsPerSensor(readings []models.Reading) map[string]int {
	counts := make(map[string]int)
	for _, r := range readings {
		counts[r.SensorID]++
	}
	return counts
}

// BuildSeries groups readings by sensor, sorts each group ascending by
// timestamp (ties by reading id) and keeps the last k. Applying it to its
// own flattened output returns the same series.
func BuildSeries(readings []models.Reading, k int) map[string][]models.Reading {
	groups := make(map[string][]models.Reading)
	for _, r := range readings {
		groups[r.SensorID] = append(groups[r.SensorID], r)
	}
	for id, group := range groups {
		sort.SliceStable(group, func(i, j int) bool {
			if !group[i].Timestamp.Equal(group[j].Timestamp) {
				return group[i].Timestamp.Before(group[j].Timestamp)
			}
			return lessID(group[i].ID, group[j].ID)
		})
		if k > 0 && len(group) > k {
			group = group[len(group)-k:]
		}
		groups[id] = group
	}
	return groups
}

// FlattenSeries concatenates series in sensor id order
func FlattenSeries(series map[string][]models.Reading) []models.Reading {
	ids := make([]string, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []models.Reading
	for _, id := range ids {
		out = append(out, series[id]...)
	}
	return out
}

// SeriesPoints converts reading series into chart points
func SeriesPoints(series map[string][]models.Reading) map[string][]models.Point {
	out := make(map[string][]models.Point, len(series))
	for id, group := range series {
		points := make([]models.Point, 0, len(group))
		for _, r := range group {
			points = append(points, models.Point{
				ReadingID:          r.ID,
				Timestamp:          r.Timestamp,
				HumidityPercentage: r.HumidityPercentage,
				TemperatureCelsius: r.TemperatureCelsius,
				AlertLevel:         r.AlertLevel,
			})
		}
		out[id] = points
	}
	return out
}

// lessID orders numeric ids numerically, anything else lexically
func lessID(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	return a < b
}
