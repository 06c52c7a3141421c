package ratelimit

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() []Limit {
	return []Limit{
		{Dimension: DimensionWeight, Max: 100, Window: time.Minute, Header: "X-Used-Weight-1m"},
		{Dimension: DimensionRawRequests, Max: 1000, Window: time.Minute},
		{Dimension: DimensionOrdersShort, Max: 2, Window: 10 * time.Second},
	}
}

func TestLimiter_CheckAdmits(t *testing.T) {
	limiter := New("test", testLimits())

	err := limiter.Check(Cost{DimensionWeight: 10, DimensionRawRequests: 1})
	assert.NoError(t, err)
	assert.Equal(t, int64(10), limiter.Used(DimensionWeight))
	assert.Equal(t, int64(1), limiter.Used(DimensionRawRequests))
}

func TestLimiter_RejectionRollsBack(t *testing.T) {
	limiter := New("test", testLimits())

	// Exhaust the order-count dimension.
	require.NoError(t, limiter.Check(Cost{DimensionOrdersShort: 2}))

	before := limiter.Used(DimensionWeight)
	err := limiter.Check(Cost{DimensionWeight: 10, DimensionOrdersShort: 1})
	require.Error(t, err)

	rle := err.(*RateLimitError)
	assert.Equal(t, DimensionOrdersShort, rle.Dimension)

	// The weight tentatively consumed by the failed check was refunded.
	assert.Equal(t, before, limiter.Used(DimensionWeight))
}

func TestLimiter_PermanentRejection(t *testing.T) {
	limiter := New("test", testLimits())

	err := limiter.Check(Cost{DimensionWeight: 101})
	require.Error(t, err)
	rle := err.(*RateLimitError)
	assert.True(t, rle.Permanent)
	assert.Equal(t, DimensionWeight, rle.Dimension)
}

func TestLimiter_UntrackedDimensionIgnored(t *testing.T) {
	limiter := New("test", testLimits())

	assert.NoError(t, limiter.Check(Cost{DimensionOrdersLong: 50}))
	assert.Equal(t, int64(0), limiter.Used(DimensionOrdersLong))
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter := New("test", []Limit{
		{Dimension: DimensionWeight, Max: 100, Window: time.Minute},
	})

	var wg sync.WaitGroup
	results := make(chan bool, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- limiter.Check(Cost{DimensionWeight: 1}) == nil
		}()
	}

	wg.Wait()
	close(results)

	admitted := 0
	for ok := range results {
		if ok {
			admitted++
		}
	}

	assert.Equal(t, 100, admitted, "capacity must be neither exceeded nor double-spent")
	assert.Equal(t, int64(100), limiter.Used(DimensionWeight))
}

func TestLimiter_RecordResponse(t *testing.T) {
	limiter := New("test", testLimits())
	require.NoError(t, limiter.Check(Cost{DimensionWeight: 5}))

	headers := http.Header{}
	headers.Set("X-Used-Weight-1m", "37")

	now := time.Now()
	limiter.RecordResponse(headers, now)

	// Server report is authoritative even above the local estimate.
	assert.Equal(t, int64(37), limiter.Used(DimensionWeight))

	// An out-of-order stale report is dropped.
	stale := http.Header{}
	stale.Set("X-Used-Weight-1m", "2")
	limiter.RecordResponse(stale, now.Add(-time.Second))
	assert.Equal(t, int64(37), limiter.Used(DimensionWeight))
}

func TestLimiter_RecordResponse_IgnoresGarbage(t *testing.T) {
	limiter := New("test", testLimits())

	headers := http.Header{}
	headers.Set("X-Used-Weight-1m", "not-a-number")
	limiter.RecordResponse(headers, time.Now())

	assert.Equal(t, int64(0), limiter.Used(DimensionWeight))
}

func TestLimiter_SetLimit(t *testing.T) {
	limiter := New("test", testLimits())

	limiter.SetLimit(DimensionWeight, 5, time.Minute)
	assert.Error(t, limiter.Check(Cost{DimensionWeight: 6}))

	// Creates the tracker when the dimension was not configured.
	limiter.SetLimit(DimensionOrdersLong, 1, time.Hour)
	assert.NoError(t, limiter.Check(Cost{DimensionOrdersLong: 1}))
	assert.Error(t, limiter.Check(Cost{DimensionOrdersLong: 1}))
}

func TestLimiter_Metrics(t *testing.T) {
	limiter := New("test", testLimits())

	require.NoError(t, limiter.Check(Cost{DimensionWeight: 10}))
	require.Error(t, limiter.Check(Cost{DimensionOrdersShort: 3}))

	m := limiter.Metrics()
	assert.Equal(t, int64(2), m.Checks)
	assert.Equal(t, int64(1), m.Admitted)
	assert.Equal(t, int64(1), m.Rejected)
}
