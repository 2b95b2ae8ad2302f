package interrupt_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-dev/runtime/interrupt"
)

func TestController_InterruptCancelsAndWaits(t *testing.T) {
	c := interrupt.NewController()
	ctx, cancel, done := c.Track(context.Background(), "tool_1")
	defer cancel()

	finished := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
		close(finished)
	}()

	assert.Equal(t, 1, c.Active())

	c.Interrupt(interrupt.ReasonUserInterrupt)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("interrupt did not wait for job completion")
	}
	assert.Equal(t, 0, c.Active())
	assert.Equal(t, interrupt.ReasonUserInterrupt, c.Reason())
}

func TestController_ForgetRemovesJobWithoutCancelling(t *testing.T) {
	c := interrupt.NewController()
	ctx, _, done := c.Track(context.Background(), "hook_1")
	close(done)
	c.Forget("hook_1")

	require.Equal(t, 0, c.Active())
	select {
	case <-ctx.Done():
		t.Fatal("forgotten job should not be cancelled")
	default:
	}
}

func TestController_InterruptWithNoJobsReturnsImmediately(t *testing.T) {
	c := interrupt.NewController()
	c.Interrupt(interrupt.ReasonLoopClosed)
	assert.Equal(t, 0, c.Active())
}
