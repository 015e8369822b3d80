package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raas21/delay-prediction-api/features"
	"github.com/Raas21/delay-prediction-api/models"
	"github.com/Raas21/delay-prediction-api/regression"
)

// versioned builds an artifact whose encoders and weights both carry v, so
// a mix of two versions is detectable.
func versioned(v int) *ModelArtifact {
	enc := features.Registry{
		features.RouteFeature: features.Fit(features.RouteFeature, []string{strconv.Itoa(v)}),
		features.StopFeature:  features.Fit(features.StopFeature, []string{"123"}),
	}
	model := &regression.Ridge{
		Lambda:    1,
		Means:     make([]float64, len(features.Columns)),
		Scales:    []float64{1, 1, 1, 1, 1, 1},
		Coef:      make([]float64, len(features.Columns)),
		Intercept: float64(v),
		MinY:      float64(v),
		MaxY:      float64(v),
	}
	return New(v, time.Unix(int64(v), 0), 1, enc, model)
}

func TestHolderEmpty(t *testing.T) {
	h := NewHolder()
	assert.Nil(t, h.Load())
	assert.Equal(t, 0, h.Version())
}

func TestHolderPublishReplaces(t *testing.T) {
	h := NewHolder()
	first := versioned(1)
	h.Publish(first)
	captured := h.Load()

	h.Publish(versioned(2))

	assert.Equal(t, 2, h.Version())
	assert.Same(t, first, captured)
	assert.Equal(t, 1, captured.SchemaVersion)
}

func TestHolderNoTornReads(t *testing.T) {
	h := NewHolder()
	h.Publish(versioned(1))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	errs := make(chan error, 8)

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				a := h.Load()
				class := a.Encoders[features.RouteFeature].Classes()[0]
				weight, _ := a.Model.Predict(make([]float64, len(features.Columns)))
				if class != strconv.Itoa(int(weight)) || a.SchemaVersion != int(weight) {
					errs <- fmt.Errorf("torn artifact: encoder %s, weight %v, version %d", class, weight, a.SchemaVersion)
					return
				}
			}
		}()
	}

	for v := 2; v <= 500; v++ {
		h.Publish(versioned(v))
	}
	cancel()
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 500, h.Version())
}

func TestRecordRoundTripKeepsEncoding(t *testing.T) {
	a := versioned(3)
	rec, err := ToRecord(a)
	require.NoError(t, err)
	assert.Equal(t, a.ID, rec.ID)

	back, err := FromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, 3, back.SchemaVersion)
	assert.Equal(t, 0, back.Encoders[features.RouteFeature].Encode("3"))
	assert.Equal(t, features.Sentinel, back.Encoders[features.StopFeature].Encode("999"))
	got, err := back.Model.Predict(make([]float64, len(features.Columns)))
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)
}

type otherModel struct{}

func (otherModel) Predict([]float64) (float64, error) { return 0, nil }

func TestToRecordRejectsUnknownModel(t *testing.T) {
	a := versioned(1)
	a.Model = otherModel{}
	_, err := ToRecord(a)
	assert.Error(t, err)
}

func TestFromRecordValidates(t *testing.T) {
	_, err := FromRecord(models.ArtifactRecord{ID: "x", Payload: []byte("not json")})
	assert.Error(t, err)

	_, err = FromRecord(models.ArtifactRecord{ID: "x", Payload: []byte(`{"encoders":{}}`)})
	assert.Error(t, err)

	_, err = FromRecord(models.ArtifactRecord{ID: "x", Payload: []byte(`{"encoders":{},"model":{"coef":[1,2,3,4,5,6]}}`)})
	assert.Error(t, err)

	corrupt := map[string]func(r *regression.Ridge){
		"short means":         func(r *regression.Ridge) { r.Means = r.Means[:2] },
		"no scales":           func(r *regression.Ridge) { r.Scales = nil },
		"zero scale":          func(r *regression.Ridge) { r.Scales[4] = 0 },
		"wrong feature count": func(r *regression.Ridge) { r.Coef, r.Means, r.Scales = r.Coef[:3], r.Means[:3], r.Scales[:3] },
		"inverted range":      func(r *regression.Ridge) { r.MinY, r.MaxY = 5, -5 },
	}
	for name, mutate := range corrupt {
		t.Run(name, func(t *testing.T) {
			a := versioned(1)
			mutate(a.Model.(*regression.Ridge))
			rec, err := ToRecord(a)
			require.NoError(t, err)

			_, err = FromRecord(rec)
			assert.Error(t, err)
		})
	}
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "artifacts.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	_, err = store.LoadLatest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	for v := 1; v <= 3; v++ {
		require.NoError(t, store.Save(ctx, versioned(v)))
	}

	latest, err := store.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.SchemaVersion)
	assert.True(t, latest.TrainedAt.Equal(time.Unix(3, 0)))

	all, err := store.List(ctx, 10, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 3, all[0].SchemaVersion)
	assert.Nil(t, all[0].Payload)

	before := time.Unix(3, 0)
	page, err := store.List(ctx, 1, &before)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 2, page[0].SchemaVersion)
}

func TestSQLiteStoreLatestPrefersNewestOfEqualVersions(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "artifacts.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	newer := versioned(2)
	newer.TrainedAt = time.Unix(90, 0).UTC()
	older := versioned(2)
	older.TrainedAt = time.Unix(10, 0).UTC()
	require.NoError(t, store.Save(ctx, newer))
	require.NoError(t, store.Save(ctx, older))

	latest, err := store.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)
	assert.True(t, latest.TrainedAt.Equal(newer.TrainedAt))
}
