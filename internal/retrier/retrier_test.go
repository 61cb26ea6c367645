package retrier_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/retrier"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (s *fakeSleeper) Sleep(d time.Duration) {
	s.slept = append(s.slept, d)
}

func TestRunSucceedsFirstTime(t *testing.T) {
	sleeper := &fakeSleeper{}
	r := retrier.New(sleeper, 3, time.Millisecond)

	var calls int
	err := r.Run(func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Errorf("expected err to be nil: got %v", err)
	}
	if expected, actual := 1, calls; expected != actual {
		t.Errorf("expected: %d, actual: %d", expected, actual)
	}
	if expected, actual := 0, len(sleeper.slept); expected != actual {
		t.Errorf("expected: %d, actual: %d", expected, actual)
	}
}

func TestRunExhaustsBackoff(t *testing.T) {
	sleeper := &fakeSleeper{}
	r := retrier.New(sleeper, 3, time.Millisecond)

	var calls int
	err := r.Run(func() error {
		calls++
		return errors.New("bad")
	})
	if !retrier.ErrRetry(err) {
		t.Errorf("expected err to be a retry error: got %v", err)
	}
	if expected, actual := 4, calls; expected != actual {
		t.Errorf("expected: %d, actual: %d", expected, actual)
	}
	if expected, actual := 3, len(sleeper.slept); expected != actual {
		t.Errorf("expected: %d, actual: %d", expected, actual)
	}
}

func TestRunRecovers(t *testing.T) {
	sleeper := &fakeSleeper{}
	r := retrier.New(sleeper, 5, time.Millisecond)

	var calls int
	err := r.Run(func() error {
		calls++
		if calls < 3 {
			return errors.New("bad")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected err to be nil: got %v", err)
	}
	if expected, actual := 2, len(sleeper.slept); expected != actual {
		t.Errorf("expected: %d, actual: %d", expected, actual)
	}
}
