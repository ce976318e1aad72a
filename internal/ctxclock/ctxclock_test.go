package ctxclock

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow(t *testing.T) {
	a := assert.New(t)

	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	_, err := Now(context.Background())
	a.True(errors.Is(err, ErrNoClock))

	now, err := Now(WithClock(context.Background(), NewStaticClock(fixed)))
	a.NoError(err)
	a.Equal(fixed, now)

	a.Equal(fixed, NowOrReal(WithClock(context.Background(), NewStaticClock(fixed))))
	a.False(NowOrReal(context.Background()).IsZero())
	a.False(NowOrReal(WithClock(context.Background(), NewErrorClock(fmt.Errorf("broken")))).IsZero())
}

func TestTestClock(t *testing.T) {
	a := assert.New(t)

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTestClock([]TestClockResult{{Time: t1}, {Error: fmt.Errorf("second")}})

	v, err := c.Now()
	a.NoError(err)
	a.Equal(t1, v)

	_, err = c.Now()
	a.EqualError(err, "second")

	_, err = c.Now()
	a.True(errors.Is(err, ErrNoTimesLeft))
}

func TestSleep(t *testing.T) {
	a := assert.New(t)

	a.NoError(Sleep(context.Background(), 0))
	a.NoError(Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a.ErrorIs(Sleep(ctx, time.Hour), context.Canceled)
}
