package features

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raas21/delay-prediction-api/models"
)

func TestFitAssignsDenseSortedCodes(t *testing.T) {
	enc := Fit(StopFeature, []string{"300", "123", "300", "200", "123"})

	assert.Equal(t, 3, enc.Len())
	assert.Equal(t, []string{"123", "200", "300"}, enc.Classes())
	assert.Equal(t, 0, enc.Encode("123"))
	assert.Equal(t, 1, enc.Encode("200"))
	assert.Equal(t, 2, enc.Encode("300"))
}

func TestFitIsDeterministic(t *testing.T) {
	a := Fit(RouteFeature, []string{"B46", "B12", "B41"})
	b := Fit(RouteFeature, []string{"B41", "B46", "B12", "B12"})
	for _, v := range []string{"B12", "B41", "B46"} {
		assert.Equal(t, a.Encode(v), b.Encode(v), "code for %s", v)
	}
}

func TestEncodeUnseenReturnsSentinel(t *testing.T) {
	enc := Fit(StopFeature, []string{"123"})
	before := testutil.ToFloat64(unseenCategories.WithLabelValues(StopFeature))

	assert.Equal(t, Sentinel, enc.Encode("999"))
	assert.Equal(t, Sentinel, enc.Encode(""))

	after := testutil.ToFloat64(unseenCategories.WithLabelValues(StopFeature))
	assert.Equal(t, 2.0, after-before)
}

func TestEncodeSeenNeverSentinel(t *testing.T) {
	values := []string{"a", "b", "c", "d", "e"}
	enc := Fit("x", values)
	codes := map[int]string{}
	for _, v := range values {
		code := enc.Encode(v)
		require.NotEqual(t, Sentinel, code)
		require.GreaterOrEqual(t, code, 0)
		require.Less(t, code, enc.Len())
		_, dup := codes[code]
		require.False(t, dup, "code %d assigned twice", code)
		codes[code] = v
	}
}

func TestFitEmpty(t *testing.T) {
	enc := Fit("x", nil)
	assert.Equal(t, 0, enc.Len())
	assert.Equal(t, Sentinel, enc.Encode("anything"))
}

func TestEncoderJSON(t *testing.T) {
	reg := Registry{
		RouteFeature: Fit(RouteFeature, []string{"B46", "B12"}),
		StopFeature:  Fit(StopFeature, []string{"123"}),
	}
	data, err := json.Marshal(reg)
	require.NoError(t, err)

	var decoded Registry
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NoError(t, decoded.Validate())
	assert.Equal(t, reg[RouteFeature].Encode("B46"), decoded[RouteFeature].Encode("B46"))
	assert.Equal(t, Sentinel, decoded[StopFeature].Encode("999"))
}

func TestEncoderJSONRejectsDuplicates(t *testing.T) {
	var enc CategoryEncoder
	err := json.Unmarshal([]byte(`{"name":"stop_id","classes":["1","1"]}`), &enc)
	assert.Error(t, err)
}

func TestDerive(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name     string
		ts       time.Time
		loc      *time.Location
		wantHour int
		wantDOW  int
	}{
		{"utc monday", time.Date(2025, 6, 16, 8, 30, 0, 0, time.UTC), time.UTC, 8, 0},
		{"utc sunday", time.Date(2025, 6, 15, 23, 0, 0, 0, time.UTC), time.UTC, 23, 6},
		{"new york shifts day", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), ny, 19, 5},
		{"nil location keeps zone", time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC), nil, 12, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hour, dow := Derive(tt.ts, tt.loc)
			assert.Equal(t, tt.wantHour, hour)
			assert.Equal(t, tt.wantDOW, dow)
		})
	}
}

func TestVector(t *testing.T) {
	reg := FitRegistry([]models.PositionEvent{
		{RouteID: "B46", StopID: "123"},
		{RouteID: "B12", StopID: "456"},
	})
	ev := models.PositionEvent{
		VehicleID: "1234",
		RouteID:   "B46",
		StopID:    "999",
		Latitude:  models.Float(40.01),
		Longitude: models.Float(-73.91),
		Timestamp: time.Date(2025, 6, 16, 8, 30, 0, 0, time.UTC),
	}

	row, err := reg.Vector(ev, time.UTC)
	require.NoError(t, err)
	require.Len(t, row.Values, len(Columns))
	assert.Equal(t, []float64{1, Sentinel, 8, 0, 40.01, -73.91}, row.Values)

	used := row.Used()
	assert.Equal(t, "999", used.StopID)
	assert.Equal(t, Sentinel, used.StopCode)
	assert.Equal(t, 1, used.RouteCode)
	assert.Equal(t, 8, used.Hour)
	assert.Equal(t, 0, used.DayOfWeek)
	assert.Equal(t, 40.01, used.Latitude)
}

func TestVectorErrors(t *testing.T) {
	reg := FitRegistry([]models.PositionEvent{{RouteID: "B46", StopID: "123"}})

	_, err := reg.Vector(models.PositionEvent{RouteID: "B46", StopID: "123"}, time.UTC)
	assert.ErrorIs(t, err, ErrMissingPosition)

	_, err = Registry{}.Vector(models.PositionEvent{}, time.UTC)
	assert.Error(t, err)
}
