package sched_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/sverin/daqctl/internal/errors"
	"codeberg.org/sverin/daqctl/internal/sched"
)

func TestNewTimingValidation(t *testing.T) {
	_, err := sched.NewTiming(time.Millisecond, 0)
	require.Error(t, err)

	_, err = sched.NewTiming(40*time.Microsecond, 50*time.Microsecond)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrPeriodTooShort))

	timing, err := sched.NewTiming(100*time.Microsecond, 50*time.Microsecond)
	require.NoError(t, err)
	assert.Equal(t, 100*time.Microsecond, timing.Period())
	assert.Equal(t, 50*time.Microsecond, timing.MinPeriod())
}

func TestSetPeriod(t *testing.T) {
	timing, err := sched.NewTiming(100*time.Microsecond, 50*time.Microsecond)
	require.NoError(t, err)

	rateCtrl := sched.NewRateController(timing)

	require.NoError(t, rateCtrl.SetPeriod(200*time.Microsecond))
	assert.Equal(t, 200*time.Microsecond, timing.Period())

	// The minimum itself is valid.
	require.NoError(t, rateCtrl.SetPeriod(50*time.Microsecond))
	assert.Equal(t, 50*time.Microsecond, timing.Period())
}

func TestSetPeriodTooShortRetainsPrevious(t *testing.T) {
	timing, err := sched.NewTiming(100*time.Microsecond, 50*time.Microsecond)
	require.NoError(t, err)

	rateCtrl := sched.NewRateController(timing)

	err = rateCtrl.SetPeriod(10 * time.Microsecond)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrPeriodTooShort))
	assert.Equal(t, 100*time.Microsecond, timing.Period(), "rejected change must retain previous period")
}
