package aggregator_test

import (
	"fmt"
	"testing"
	"time"

	agg "github.com/caat-at/sistema-sensores-humedad-agricola/internal/aggregator"
	"github.com/caat-at/sistema-sensores-humedad-agricola/internal/models"

	"github.com/stretchr/testify/require"
)

func sensor(id string, status models.SensorStatus) models.Sensor {
	return models.Sensor{
		SensorID:               id,
		Status:                 status,
		MinHumidityThreshold:   30,
		MaxHumidityThreshold:   70,
		ReadingIntervalMinutes: 15,
	}
}

func reading(id, sensorID string, humidity float64, ts time.Time) models.Reading {
	return models.Reading{
		ID:                 id,
		SensorID:           sensorID,
		HumidityPercentage: humidity,
		Timestamp:          ts,
		AlertLevel:         models.AlertLevelNormal,
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestCountActiveSensors(t *testing.T) {
	tests := []struct {
		name    string
		sensors []models.Sensor
		want    int
	}{
		{"empty", nil, 0},
		{"none active", []models.Sensor{sensor("a", models.SensorInactive), sensor("b", models.SensorError)}, 0},
		{"mixed", []models.Sensor{
			sensor("a", models.SensorActive),
			sensor("b", models.SensorMaintenance),
			sensor("c", models.SensorActive),
		}, 2},
		{"all active", []models.Sensor{sensor("a", models.SensorActive)}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, agg.CountActiveSensors(tt.sensors))
			d := agg.Derive(agg.Snapshot{Sensors: tt.sensors}, time.Now(), 0)
			require.Equal(t, tt.want, d.View.ActiveSensors)
			require.Equal(t, len(tt.sensors)-tt.want, d.View.InactiveSensors)
		})
	}
}

func TestBuildSeries_SortsAndTruncates(t *testing.T) {
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	var readings []models.Reading
	// most-recent-first, as the backend returns them
	for i := 24; i >= 0; i-- {
		readings = append(readings, reading(fmt.Sprint(i), "S1", float64(i), base.Add(time.Duration(i)*time.Minute)))
	}
	readings = append(readings, reading("100", "S2", 55, base))

	series := agg.BuildSeries(readings, 20)
	require.Len(t, series["S1"], 20)
	require.Len(t, series["S2"], 1)
	require.Equal(t, "5", series["S1"][0].ID)
	require.Equal(t, "24", series["S1"][19].ID)
	for i := 1; i < len(series["S1"]); i++ {
		require.True(t, series["S1"][i-1].Timestamp.Before(series["S1"][i].Timestamp))
	}
}

func TestBuildSeries_TiesBrokenByID(t *testing.T) {
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	readings := []models.Reading{
		reading("10", "S1", 1, ts),
		reading("9", "S1", 2, ts),
		reading("b", "S2", 3, ts),
		reading("a", "S2", 4, ts),
	}
	series := agg.BuildSeries(readings, 20)
	require.Equal(t, "9", series["S1"][0].ID)
	require.Equal(t, "10", series["S1"][1].ID)
	require.Equal(t, "a", series["S2"][0].ID)
}

func TestBuildSeries_Idempotent(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var readings []models.Reading
	for i := 0; i < 90; i++ {
		sensorID := fmt.Sprintf("S%d", i%4)
		// scrambled timestamps with duplicates
		ts := base.Add(time.Duration((i*37)%50) * time.Minute)
		readings = append(readings, reading(fmt.Sprint(i), sensorID, float64(i%100), ts))
	}

	once := agg.BuildSeries(readings, agg.DefaultSeriesLength)
	twice := agg.BuildSeries(agg.FlattenSeries(once), agg.DefaultSeriesLength)
	require.Equal(t, once, twice)
	require.Equal(t, agg.FlattenSeries(once), agg.FlattenSeries(twice))
}

func TestBuildSeries_DoesNotMutateInput(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	readings := []models.Reading{
		reading("2", "S1", 2, base.Add(time.Minute)),
		reading("1", "S1", 1, base),
	}
	agg.BuildSeries(readings, 20)
	require.Equal(t, "2", readings[0].ID)
}

func TestDerive_UnknownSensorReadingsExcluded(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := agg.Snapshot{
		Sensors: []models.Sensor{sensor("S1", models.SensorActive)},
		Readings: []models.Reading{
			reading("1", "S1", 40, now.Add(-time.Hour)),
			reading("2", "GHOST", 99, now.Add(-time.Minute)),
		},
		Alerts: []models.Alert{
			{AlertID: "A1", SensorID: "S1", Status: models.AlertActive},
			{AlertID: "A2", SensorID: "GHOST", Status: models.AlertActive},
		},
	}

	d := agg.Derive(snap, now, 20)
	require.Equal(t, 1, d.DroppedReadings)
	require.Equal(t, 1, d.DroppedAlerts)
	require.NotContains(t, d.View.Series, "GHOST")
	require.NotContains(t, d.View.ReadingsPerSensor, "GHOST")
	require.Equal(t, 1, d.View.TotalReadings)
	require.Equal(t, 40.0, d.View.HumidityStats.Max)
	require.Equal(t, 1, d.View.ActiveAlerts)
	require.Len(t, d.View.Alerts, 1)
}

func TestCountToday_LocalMidnightBoundary(t *testing.T) {
	loc := time.FixedZone("COT", -5*3600)
	now := time.Date(2024, 5, 2, 0, 30, 0, 0, loc)
	readings := []models.Reading{
		reading("1", "S1", 1, time.Date(2024, 5, 2, 0, 0, 0, 0, loc)),
		reading("2", "S1", 1, time.Date(2024, 5, 1, 23, 59, 59, 0, loc)),
		// 04:59 UTC on May 2 is still May 1 locally
		reading("3", "S1", 1, time.Date(2024, 5, 2, 4, 59, 0, 0, time.UTC)),
		reading("4", "S1", 1, time.Date(2024, 5, 2, 5, 0, 0, 0, time.UTC)),
		reading("5", "S1", 1, time.Date(2024, 5, 3, 0, 0, 0, 0, loc)),
	}
	require.Equal(t, 2, agg.CountToday(readings, now))
	require.Equal(t, 0, agg.CountToday(nil, now))
}

func TestStats(t *testing.T) {
	ts := time.Now()
	r1 := reading("1", "S1", 40, ts)
	r1.TemperatureCelsius = floatPtr(20)
	r2 := reading("2", "S1", 45, ts)
	r3 := reading("3", "S1", 50.5, ts)
	r3.TemperatureCelsius = floatPtr(25.5)

	h := agg.HumidityStats([]models.Reading{r1, r2, r3})
	require.Equal(t, models.Stats{Min: 40, Max: 50.5, Avg: 45.2, Count: 3}, h)

	temp := agg.TemperatureStats([]models.Reading{r1, r2, r3})
	require.Equal(t, models.Stats{Min: 20, Max: 25.5, Avg: 22.8, Count: 2}, temp)

	require.Equal(t, models.Stats{}, agg.HumidityStats(nil))
	require.Equal(t, models.Stats{}, agg.TemperatureStats([]models.Reading{r2}))
}

func TestAlertLevelDistribution(t *testing.T) {
	known := agg.SensorIndex([]models.Sensor{sensor("S1", models.SensorActive)})
	ts := time.Now()

	high := reading("1", "S1", 80, ts)
	high.AlertLevel = models.AlertLevelHigh
	unset := reading("2", "S1", 5, ts)
	unset.AlertLevel = ""

	dist := agg.AlertLevelDistribution(known, []models.Reading{high, unset, reading("3", "S1", 50, ts)})
	require.Equal(t, map[models.AlertLevel]int{
		models.AlertLevelNormal:   1,
		models.AlertLevelLow:      0,
		models.AlertLevelHigh:     1,
		models.AlertLevelCritical: 1,
	}, dist)

	empty := agg.AlertLevelDistribution(known, nil)
	require.Len(t, empty, 4)
}

func TestDerive_EmptySnapshot(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := agg.Derive(agg.Snapshot{}, now, 20)

	require.Equal(t, 0, d.View.TotalSensors)
	require.Equal(t, 0, d.View.ActiveSensors)
	require.Empty(t, d.View.Series)
	require.Len(t, d.View.SensorStatusDistribution, len(models.SensorStatuses))
	require.Len(t, d.View.AlertLevelDistribution, len(models.AlertLevels))
	require.Equal(t, now, d.View.ComputedAt)
}
