package gazodb

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approveAll(t *testing.T, ds *Dataset, ids ...uint) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, ds.Moderation.Decide(context.Background(), id, true, "", time.Time{}))
	}
}

func TestSampleNothingApproved(t *testing.T) {
	ctx := context.Background()
	ds, _ := testDataset(t)

	_, err := ds.Sampler.Sample(ctx, 0)
	assert.ErrorIs(t, err, ErrNoEligibleImage)

	ids := addImages(t, ds, 2)
	require.NoError(t, ds.Moderation.Decide(ctx, ids[0], false, "bad", time.Time{}))
	_, err = ds.Sampler.Sample(ctx, 0)
	assert.ErrorIs(t, err, ErrNoEligibleImage)
}

func TestSampleNeverPostedFirst(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ds, clock := testDataset(t)
	ids := addImages(t, ds, 3)
	approveAll(t, ds, ids...)

	interval := time.Hour
	require.NoError(t, ds.History.Record(ctx, ids[0], clock.Now().Add(-2*interval)))

	seen := map[uint]bool{}
	for i := 0; i < 2; i++ {
		img, err := ds.Sampler.Sample(ctx, interval)
		assert.NoError(err)
		assert.NotEqual(ids[0], img.ID)
		seen[img.ID] = true
	}
	assert.Equal(map[uint]bool{ids[1]: true, ids[2]: true}, seen)

	img, err := ds.Sampler.Sample(ctx, interval)
	assert.NoError(err)
	assert.Equal(ids[0], img.ID)

	// everything was just posted
	_, err = ds.Sampler.Sample(ctx, interval)
	assert.ErrorIs(err, ErrNoEligibleImage)
}

func TestSampleIntervalExclusion(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ds, clock := testDataset(t)
	ids := addImages(t, ds, 1)
	approveAll(t, ds, ids...)

	require.NoError(t, ds.History.Record(ctx, ids[0], clock.Now().Add(-10*time.Second)))
	_, err := ds.Sampler.Sample(ctx, 3600*time.Second)
	assert.ErrorIs(err, ErrNoEligibleImage)

	entries, err := ds.History.All(ctx)
	assert.NoError(err)
	assert.Len(entries, 1)

	clock.Advance(time.Hour)
	img, err := ds.Sampler.Sample(ctx, 3600*time.Second)
	assert.NoError(err)
	assert.Equal(ids[0], img.ID)
}

func TestSampleZeroIntervalRotates(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ds, _ := testDataset(t)
	ids := addImages(t, ds, 1)
	approveAll(t, ds, ids...)

	// with no minimum interval an image posted this very instant is still a candidate
	for i := 0; i < 3; i++ {
		img, err := ds.Sampler.Sample(ctx, 0)
		assert.NoError(err)
		assert.Equal(ids[0], img.ID)
	}
	entries, err := ds.History.All(ctx)
	assert.NoError(err)
	assert.Len(entries, 3)
}

func TestSampleScenario(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ds, clock := testDataset(t)
	ids := addImages(t, ds, 3)
	assert.Equal([]uint{1, 2, 3}, ids)

	assert.NoError(ds.Moderation.Decide(ctx, 1, true, "", time.Time{}))
	assert.NoError(ds.Moderation.Decide(ctx, 2, false, "foo", time.Time{}))
	assert.NoError(ds.Moderation.Decide(ctx, 3, true, "", time.Time{}))

	first, err := ds.Sampler.Sample(ctx, 0)
	assert.NoError(err)
	assert.Contains([]uint{1, 3}, first.ID)

	clock.Advance(100 * time.Second)
	second, err := ds.Sampler.Sample(ctx, 0)
	assert.NoError(err)
	assert.Contains([]uint{1, 3}, second.ID)
	assert.NotEqual(first.ID, second.ID)

	clock.Advance(10 * time.Second)
	third, err := ds.Sampler.Sample(ctx, 0)
	assert.NoError(err)
	assert.Contains([]uint{1, 3}, third.ID)

	_, err = ds.Sampler.Sample(ctx, 999999*time.Second)
	assert.ErrorIs(err, ErrNoEligibleImage)

	entries, err := ds.History.All(ctx)
	assert.NoError(err)
	assert.Len(entries, 3)
	for _, e := range entries {
		assert.NotEqual(uint(2), e.ImageID)
	}
}

func TestSampleConcurrent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ds, _ := testDataset(t)
	ids := addImages(t, ds, 2)
	approveAll(t, ds, ids...)

	var wg sync.WaitGroup
	results := make([]uint, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img, err := ds.Sampler.Sample(ctx, time.Hour)
			errs[i] = err
			if err == nil {
				results[i] = img.ID
			}
		}(i)
	}
	wg.Wait()

	assert.NoError(errs[0])
	assert.NoError(errs[1])
	assert.NotEqual(results[0], results[1])
}

func TestPartition(t *testing.T) {
	assert := assert.New(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	latest := map[uint]time.Time{
		2: now.Add(-10 * time.Second),
		3: now.Add(-2 * time.Hour),
		4: now.Add(time.Minute),
	}

	never, stale := partition([]uint{1, 2, 3, 4}, latest, now, time.Hour)
	assert.Equal([]uint{1}, never)
	assert.Equal([]staleImage{{imageID: 3, age: 7200}}, stale)

	never, stale = partition([]uint{1, 2, 3, 4}, latest, now, 0)
	assert.Equal([]uint{1}, never)
	assert.Equal([]staleImage{{imageID: 2, age: 10}, {imageID: 3, age: 7200}, {imageID: 4, age: 0}}, stale)
}

func TestPickByAgeWeighting(t *testing.T) {
	rng := &lockedRand{r: rand.New(rand.NewPCG(7, 11))}
	stale := []staleImage{{imageID: 1, age: 100}, {imageID: 2, age: 900}}

	const trials = 10000
	counts := map[uint]int{}
	for i := 0; i < trials; i++ {
		counts[pickByAge(stale, rng)]++
	}

	// expected 1000 vs 9000; binomial standard deviation is 30
	assert.InDelta(t, 1000, counts[1], 150)
	assert.InDelta(t, 9000, counts[2], 150)
	ratio := float64(counts[2]) / float64(counts[1])
	assert.True(t, math.Abs(ratio-9) < 1.5, "ratio %f", ratio)
}

func TestPickByAgeZeroWeight(t *testing.T) {
	rng := &lockedRand{r: rand.New(rand.NewPCG(3, 5))}

	// a zero-age image is never drawn while others have positive weight
	stale := []staleImage{{imageID: 1, age: 0}, {imageID: 2, age: 50}}
	for i := 0; i < 1000; i++ {
		assert.Equal(t, uint(2), pickByAge(stale, rng))
	}

	// all ages equal, including zero: uniform fallback
	for _, age := range []float64{0, 30} {
		stale = []staleImage{{imageID: 1, age: age}, {imageID: 2, age: age}, {imageID: 3, age: age}}
		counts := map[uint]int{}
		for i := 0; i < 3000; i++ {
			counts[pickByAge(stale, rng)]++
		}
		for _, id := range []uint{1, 2, 3} {
			assert.InDelta(t, 1000, counts[id], 150)
		}
	}
}

func TestChoosePrefersNeverPosted(t *testing.T) {
	rng := &lockedRand{r: rand.New(rand.NewPCG(1, 1))}
	stale := []staleImage{{imageID: 9, age: 1e9}}

	counts := map[uint]int{}
	for i := 0; i < 2000; i++ {
		id, ok := choose([]uint{1, 2}, stale, rng)
		assert.True(t, ok)
		counts[id]++
	}
	assert.Zero(t, counts[9])
	assert.InDelta(t, 1000, counts[1], 150)

	_, ok := choose(nil, nil, rng)
	assert.False(t, ok)
}
