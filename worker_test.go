package apns

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckpointFiresOnce(t *testing.T) {
	cp := newCheckpoint()
	select {
	case <-cp.Done():
		t.Fatal("fired too early")
	default:
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-cp.Done()
			assert.Equal(t, uint32(7), cp.ID())
		}()
	}
	cp.fire(7)
	cp.fire(9)
	wg.Wait()
	assert.Equal(t, uint32(7), cp.ID())
}

func TestRaceOutcome(t *testing.T) {
	cause := errors.New("broken pipe")
	outcome := &raceOutcome{reason: "write", err: cause}
	assert.EqualError(t, outcome, "write: broken pipe")
	assert.ErrorIs(t, outcome, cause)

	var target *raceOutcome
	assert.True(t, errors.As(error(&raceOutcome{id: 3, reason: "error response"}), &target))
	assert.Equal(t, uint32(3), target.id)
}
