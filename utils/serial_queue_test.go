package utils_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"
	"go.viam.com/test"

	"go.viam.com/depthcapture/utils"
)

func TestSerialQueueOrder(t *testing.T) {
	q := utils.NewSerialQueue(4)
	defer q.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		test.That(t, q.Dispatch(context.Background(), func() { got = append(got, i) }), test.ShouldBeNil)
	}
	test.That(t, q.DispatchSync(context.Background(), func() {}), test.ShouldBeNil)

	test.That(t, got, test.ShouldHaveLength, 100)
	for i, v := range got {
		test.That(t, v, test.ShouldEqual, i)
	}
}

func TestSerialQueueNeverConcurrent(t *testing.T) {
	q := utils.NewSerialQueue(8)
	defer q.Close()

	var (
		mu      sync.Mutex
		running int
		maxSeen int
		wg      sync.WaitGroup
	)
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = q.Dispatch(context.Background(), func() {
					mu.Lock()
					running++
					if running > maxSeen {
						maxSeen = running
					}
					mu.Unlock()
					time.Sleep(time.Microsecond)
					mu.Lock()
					running--
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()
	test.That(t, q.DispatchSync(context.Background(), func() {}), test.ShouldBeNil)
	test.That(t, maxSeen, test.ShouldEqual, 1)
}

func TestSerialQueueClose(t *testing.T) {
	q := utils.NewSerialQueue(4)

	ran := make(chan struct{}, 1)
	test.That(t, q.Dispatch(context.Background(), func() { ran <- struct{}{} }), test.ShouldBeNil)
	q.Close()
	<-ran

	err := q.Dispatch(context.Background(), func() {})
	test.That(t, err, test.ShouldBeError, utils.ErrQueueClosed)
	test.That(t, q.DispatchSync(context.Background(), func() {}), test.ShouldBeError, utils.ErrQueueClosed)

	// Closing twice is fine.
	q.Close()
}

func TestSerialQueueDispatchHonorsContext(t *testing.T) {
	q := utils.NewSerialQueue(1)
	defer q.Close()

	block := make(chan struct{})
	running := make(chan struct{})
	test.That(t, q.Dispatch(context.Background(), func() {
		close(running)
		<-block
	}), test.ShouldBeNil)
	<-running
	// The worker is stuck on the first task; this fills the single pending slot.
	test.That(t, q.Dispatch(context.Background(), func() {}), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Dispatch(ctx, func() {})
	test.That(t, err, test.ShouldBeError, context.DeadlineExceeded)
	close(block)
}

func TestSerialQueueAcceptedTasksRunAfterClose(t *testing.T) {
	for i := 0; i < 200; i++ {
		q := utils.NewSerialQueue(2)
		var accepted, ran atomic.Int64
		var wg sync.WaitGroup
		for p := 0; p < 8; p++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					if err := q.Dispatch(context.Background(), func() { ran.Inc() }); err != nil {
						return
					}
					accepted.Inc()
				}
			}()
		}
		q.Close()
		wg.Wait()
		test.That(t, ran.Load(), test.ShouldEqual, accepted.Load())
	}
}
