package dispatch

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/deploygw/internal/deploy"
	"github.com/mattjoyce/deploygw/internal/dispatch/mocks"
	"github.com/mattjoyce/deploygw/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json") // Suppress logs in tests
	os.Exit(m.Run())
}

func TestDispatch_Results(t *testing.T) {
	tests := []struct {
		name        string
		ev          deploy.Event
		wantMessage string
		wantDetail  map[string]string
	}{
		{
			name: "succeeded",
			ev: deploy.Event{
				Type:      deploy.EventSucceeded,
				Label:     "deploy_succeeded",
				DeployID:  "d1",
				SiteName:  "trek-snout",
				DeployURL: "https://x.test",
			},
			wantMessage: "Deploy succeeded event processed",
			wantDetail: map[string]string{
				"deploy_id":  "d1",
				"site_name":  "trek-snout",
				"deploy_url": "https://x.test",
			},
		},
		{
			name: "failed with error message",
			ev: deploy.Event{
				Type:         deploy.EventFailed,
				Label:        "deploy_failed",
				DeployID:     "d2",
				SiteName:     "trek-snout",
				ErrorMessage: "build timeout",
			},
			wantMessage: "Deploy failed event processed",
			wantDetail: map[string]string{
				"deploy_id":     "d2",
				"site_name":     "trek-snout",
				"error_message": "build timeout",
			},
		},
		{
			name: "failed without error message",
			ev: deploy.Event{
				Type:     deploy.EventFailed,
				Label:    "deploy_failed",
				DeployID: "d3",
			},
			wantMessage: "Deploy failed event processed",
			wantDetail: map[string]string{
				"deploy_id":     "d3",
				"site_name":     "",
				"error_message": "Unknown error",
			},
		},
		{
			name:        "locked",
			ev:          deploy.Event{Type: deploy.EventLocked, Label: "deploy_locked", DeployID: "d4"},
			wantMessage: "Deploy locked event processed",
		},
		{
			name:        "unlocked",
			ev:          deploy.Event{Type: deploy.EventUnlocked, Label: "deploy_unlocked", DeployID: "d5"},
			wantMessage: "Deploy unlocked event processed",
		},
		{
			name:        "unknown names the label",
			ev:          deploy.Event{Type: deploy.EventUnknown, Label: "some_future_event", DeployID: "d6"},
			wantMessage: "Event some_future_event received but not processed",
		},
		{
			name:        "out of range type treated as unknown",
			ev:          deploy.Event{Type: deploy.EventType(99), Label: "weird", DeployID: "d7"},
			wantMessage: "Event weird received but not processed",
		},
	}

	d := New(nil, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Dispatch(context.Background(), tt.ev)
			assert.True(t, res.Success, "dispatch must always succeed")
			assert.Equal(t, tt.wantMessage, res.Message)
			assert.Equal(t, tt.wantDetail, res.Detail)
		})
	}
}

func TestDispatch_EveryEventTypeHasHandler(t *testing.T) {
	d := New(nil, 0)
	for _, et := range deploy.EventTypes() {
		_, ok := d.handlers[et]
		assert.True(t, ok, "no handler for %s", et)
	}
}

func TestDispatch_NotifierCalledOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ev := deploy.Event{Type: deploy.EventFailed, Label: "deploy_failed", DeployID: "d1"}

	notifier := mocks.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), ev).Return(nil).Times(1)

	d := New(notifier, time.Second)
	res := d.Dispatch(context.Background(), ev)
	d.Wait()

	assert.True(t, res.Success)
}

func TestDispatch_NotifierFailureSwallowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	notifier := mocks.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(errors.New("alerting down")).Times(1)

	d := New(notifier, time.Second)
	res := d.Dispatch(context.Background(), deploy.Event{Type: deploy.EventSucceeded, Label: "deploy_succeeded"})
	d.Wait()

	assert.True(t, res.Success)
	assert.Equal(t, "Deploy succeeded event processed", res.Message)
}

func TestDispatch_NotifierPanicRecovered(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	notifier := mocks.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, ev deploy.Event) error {
			panic("boom")
		},
	).Times(1)

	d := New(notifier, time.Second)
	res := d.Dispatch(context.Background(), deploy.Event{Type: deploy.EventLocked, Label: "deploy_locked"})
	d.Wait()

	assert.True(t, res.Success)
}

func TestDispatch_DoesNotWaitForNotifier(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool

	n := notifierFunc(func(ctx context.Context, ev deploy.Event) error {
		<-release
		finished.Store(true)
		return nil
	})

	d := New(n, time.Minute)

	done := make(chan deploy.Result, 1)
	go func() {
		done <- d.Dispatch(context.Background(), deploy.Event{Type: deploy.EventSucceeded, Label: "deploy_succeeded"})
	}()

	select {
	case res := <-done:
		assert.True(t, res.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked on the notifier")
	}
	assert.False(t, finished.Load())

	close(release)
	d.Wait()
	assert.True(t, finished.Load())
}

func TestDispatch_NotifierOutlivesRequestContext(t *testing.T) {
	var gotErr atomic.Value

	n := notifierFunc(func(ctx context.Context, ev deploy.Event) error {
		time.Sleep(20 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			gotErr.Store(err)
		}
		_, hasDeadline := ctx.Deadline()
		if !hasDeadline {
			gotErr.Store(errors.New("notifier context has no deadline"))
		}
		return nil
	})

	d := New(n, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, deploy.Event{Type: deploy.EventSucceeded, Label: "deploy_succeeded"})
	cancel()
	d.Wait()

	require.Nil(t, gotErr.Load())
}

func TestDispatch_NoNotificationAfterWait(t *testing.T) {
	var calls atomic.Int32
	n := notifierFunc(func(ctx context.Context, ev deploy.Event) error {
		calls.Add(1)
		return nil
	})

	d := New(n, time.Second)
	d.Dispatch(context.Background(), deploy.Event{Type: deploy.EventSucceeded, Label: "deploy_succeeded"})
	d.Wait()
	require.Equal(t, int32(1), calls.Load())

	res := d.Dispatch(context.Background(), deploy.Event{Type: deploy.EventFailed, Label: "deploy_failed"})
	assert.True(t, res.Success)
	assert.Equal(t, "Deploy failed event processed", res.Message)

	d.Wait()
	assert.Equal(t, int32(1), calls.Load(), "notifier must not run once draining has started")
}

func TestDispatch_ConcurrentDispatchAndWait(t *testing.T) {
	var calls atomic.Int32
	n := notifierFunc(func(ctx context.Context, ev deploy.Event) error {
		calls.Add(1)
		return nil
	})
	d := New(n, time.Second)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			d.Dispatch(context.Background(), deploy.Event{Type: deploy.EventSucceeded, Label: "deploy_succeeded"})
		}()
	}
	close(start)
	d.Wait()
	after := calls.Load()
	wg.Wait()

	assert.Equal(t, after, calls.Load(), "no notification may start after Wait returns")
}

type notifierFunc func(ctx context.Context, ev deploy.Event) error

func (f notifierFunc) Notify(ctx context.Context, ev deploy.Event) error { return f(ctx, ev) }
