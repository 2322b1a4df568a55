package main

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsEveryTask(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	task := func(_ context.Context, id int) error {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
		if id == 3 {
			return errors.New("sync limit reached")
		}
		return nil
	}

	s := NewScheduler(3, task, 0, nil)
	require.Equal(t, 3, s.WorkerCount())
	s.Start(context.Background())
	go func() {
		for id := 1; id <= 6; id++ {
			s.Submit(id)
		}
		s.Close()
	}()

	succeeded, failed := 0, 0
	for result := range s.Results() {
		require.False(t, result.Fatal)
		if result.Success {
			succeeded++
		} else {
			failed++
			require.Equal(t, 3, result.ID)
		}
	}
	require.Equal(t, 5, succeeded)
	require.Equal(t, 1, failed)

	sort.Ints(seen)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, seen)
}

func TestSchedulerStopsOnFatalError(t *testing.T) {
	task := func(_ context.Context, id int) error {
		return &APIError{HTTPStatus: 401, Code: 401, Message: "token expired"}
	}

	s := NewScheduler(2, task, 0, nil)
	s.Start(context.Background())
	go func() {
		for id := 1; id <= 50; id++ {
			if !s.Submit(id) {
				break
			}
		}
		s.Close()
	}()

	var fatal []TaskResult
	for result := range s.Results() {
		require.False(t, result.Success)
		if result.Fatal {
			fatal = append(fatal, result)
		}
	}
	require.Len(t, fatal, 1)
	require.True(t, IsFatalError(fatal[0].Error))
	require.False(t, s.Submit(99))
}
