package jobqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestAddJobRejectsDuplicatesAndBadSpecs(t *testing.T) {
	js := NewJobScheduler(zaptest.NewLogger(t))
	noop := func(context.Context) error { return nil }

	require.NoError(t, js.AddJob(ScheduledJob{Name: "settlement", Schedule: "0 */5 * * * *", Handler: noop}))
	assert.Error(t, js.AddJob(ScheduledJob{Name: "settlement", Schedule: "0 */5 * * * *", Handler: noop}))
	assert.Error(t, js.AddJob(ScheduledJob{Name: "broken", Schedule: "every minute", Handler: noop}))
	assert.Equal(t, []string{"settlement"}, js.GetJobs())

	js.RemoveJob("settlement")
	assert.Empty(t, js.GetJobs())
}

func TestScheduledJobRuns(t *testing.T) {
	js := NewJobScheduler(zaptest.NewLogger(t))
	var runs int32

	require.NoError(t, js.AddJob(ScheduledJob{
		Name:     "tick",
		Schedule: "* * * * * *",
		Handler: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	}))

	js.Start()
	defer js.Stop()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) > 0 }, 3*time.Second, 50*time.Millisecond)
}
