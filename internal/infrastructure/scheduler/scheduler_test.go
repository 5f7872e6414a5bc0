package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Description() string           { return "test job " + j.name }
func (j funcJob) Run(ctx context.Context) error { return j.run(ctx) }

var almaty = time.FixedZone("Asia/Almaty", 5*3600)

func TestParseCron_WeeklyBoundaryInLeagueZone(t *testing.T) {
	cs, err := ParseCron(WeeklyMonday, almaty)
	require.NoError(t, err)

	// Sunday 2024-03-17 18:59 UTC is 23:59 in the league zone.
	after := time.Date(2024, 3, 17, 18, 59, 0, 0, time.UTC)
	next := cs.Next(after)

	assert.Equal(t, time.Date(2024, 3, 18, 0, 0, 0, 0, almaty), next)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, time.Date(2024, 3, 25, 0, 0, 0, 0, almaty), cs.Next(next))
}

func TestParseCron_Fields(t *testing.T) {
	tests := []struct {
		expr  string
		after time.Time
		want  time.Time
	}{
		{"*/15 * * * *", time.Date(2024, 1, 1, 10, 7, 0, 0, time.UTC), time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)},
		{"30 6 * * 1-5", time.Date(2024, 3, 16, 12, 0, 0, 0, time.UTC), time.Date(2024, 3, 18, 6, 30, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2023, 12, 31, 23, 59, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"0 12 * * 7", time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 17, 12, 0, 0, 0, time.UTC)},
		{"5,35 * * * *", time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), time.Date(2024, 1, 1, 10, 35, 0, 0, time.UTC)},
		// both day fields restricted: either one matches
		{"0 0 13 * 5", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)},
		{"0 0 13 * 5", time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)},
		// a starred day field keeps both conditions
		{"0 0 */10 * 1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr+" after "+tt.after.Format("01-02"), func(t *testing.T) {
			cs, err := ParseCron(tt.expr, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cs.Next(tt.after))
		})
	}
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "a * * * *", "*/0 * * * *", "5-1 * * * *", "1,,2 * * * *"} {
		_, err := ParseCron(expr, nil)
		assert.Error(t, err, expr)
	}
}

func TestIntervalSchedule(t *testing.T) {
	s := Every(time.Minute)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, at.Add(time.Minute), s.Next(at))
	assert.Equal(t, "@every 1m0s", s.String())
}

func TestScheduler_RegisterAndRunNow(t *testing.T) {
	s := New(Config{})
	var runs atomic.Int32
	job := funcJob{name: "batch", run: func(context.Context) error { runs.Add(1); return nil }}

	require.NoError(t, s.Register(job, Every(time.Hour)))
	assert.ErrorIs(t, s.Register(job, Every(time.Hour)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, Every(time.Hour)), ErrNilJob)

	res, err := s.RunNow(context.Background(), "batch")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)
	assert.EqualValues(t, 1, runs.Load())

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.EqualValues(t, 1, infos[0].RunCount)
	require.NotNil(t, infos[0].LastResult)
	assert.True(t, infos[0].LastResult.Manual)
}

func TestScheduler_FailuresAndPanicsAreRecorded(t *testing.T) {
	s := New(Config{})
	require.NoError(t, s.Register(funcJob{name: "err", run: func(context.Context) error { return errors.New("boom") }}, Every(time.Hour)))
	require.NoError(t, s.Register(funcJob{name: "panic", run: func(context.Context) error { panic("bad") }}, Every(time.Hour)))

	_, err := s.RunNow(context.Background(), "err")
	assert.Error(t, err)
	_, err = s.RunNow(context.Background(), "panic")
	assert.ErrorContains(t, err, "panicked")

	for _, info := range s.ListJobs() {
		assert.EqualValues(t, 1, info.RunCount, info.Name)
		assert.EqualValues(t, 1, info.FailCount, info.Name)
		assert.False(t, info.LastResult.Success, info.Name)
	}
}

func TestScheduler_DoesNotOverlapRuns(t *testing.T) {
	s := New(Config{})
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var runs atomic.Int32
	job := funcJob{name: "slow", run: func(context.Context) error {
		runs.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}}
	require.NoError(t, s.Register(job, Every(time.Millisecond)))

	s.ctx, s.cancel = context.WithCancel(context.Background())
	defer s.cancel()

	base := time.Now()
	s.now = func() time.Time { return base.Add(time.Hour) }
	s.dispatchDue()
	<-started

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	s.dispatchDue()
	_, err := s.RunNow(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrJobRunning)

	close(release)
	s.wg.Wait()
	assert.EqualValues(t, 1, runs.Load())
}

func TestScheduler_JobTimeout(t *testing.T) {
	s := New(Config{JobTimeout: 10 * time.Millisecond})
	require.NoError(t, s.Register(funcJob{name: "stuck", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}, Every(time.Hour)))

	_, err := s.RunNow(context.Background(), "stuck")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(Config{TickInterval: 5 * time.Millisecond})
	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}
