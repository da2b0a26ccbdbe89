// internal/messaging/bus_test.go
package messaging_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
	"github.com/fitchecklabs/fitcheck-cli/internal/messaging"
)

func newTestBus(t *testing.T, bufferSize int) *messaging.Bus {
	return messaging.New(zaptest.NewLogger(t), bufferSize)
}

func TestBus_RequestResponse(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := newTestBus(t, 1)
	defer b.Shutdown()

	err := b.Handle(schemas.ActionFetchImage, func(_ context.Context, payload []byte) (any, error) {
		var req schemas.FetchImageRequest
		require.NoError(t, jsonUnmarshal(payload, &req))
		return schemas.FetchImageReply{Success: true, Base64: "data:image/jpeg;base64,AAA=" + req.ImageURL[len(req.ImageURL)-1:]}, nil
	})
	require.NoError(t, err)

	var reply schemas.FetchImageReply
	err = b.Request(context.Background(), schemas.ActionFetchImage,
		schemas.FetchImageRequest{ImageURL: "https://cdn.example.com/1"}, &reply)
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.NotEmpty(t, reply.Base64)
}

func TestBus_Request_UnknownAction(t *testing.T) {
	b := newTestBus(t, 0)
	defer b.Shutdown()

	err := b.Request(context.Background(), schemas.ActionCheckAvatar, nil, nil)
	assert.ErrorIs(t, err, messaging.ErrUnknownAction)
}

func TestBus_Request_HandlerError(t *testing.T) {
	b := newTestBus(t, 0)
	defer b.Shutdown()

	sentinel := errors.New("upstream exploded")
	require.NoError(t, b.Handle(schemas.ActionCheckAuthStatus, func(context.Context, []byte) (any, error) {
		return nil, sentinel
	}))

	err := b.Request(context.Background(), schemas.ActionCheckAuthStatus, nil, nil)
	assert.ErrorIs(t, err, sentinel)
}

func TestBus_Handle_Duplicate(t *testing.T) {
	b := newTestBus(t, 0)
	defer b.Shutdown()

	noop := func(context.Context, []byte) (any, error) { return nil, nil }
	require.NoError(t, b.Handle(schemas.ActionCheckAvatar, noop))
	assert.Error(t, b.Handle(schemas.ActionCheckAvatar, noop))
}

func TestBus_PostSubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := newTestBus(t, 4)

	ch, unsubscribe := b.Subscribe(schemas.ActionImageSelected)
	defer unsubscribe()

	notice := schemas.ImageSelected{
		Src:        "https://cdn.example.com/p/9.jpg",
		Alt:        "wrap dress",
		Domain:     "example.com",
		Dimensions: schemas.Dimensions{Width: 600, Height: 800},
	}
	require.NoError(t, b.Post(context.Background(), schemas.ActionImageSelected, notice))

	select {
	case env := <-ch:
		var got schemas.ImageSelected
		require.NoError(t, env.Decode(&got))
		assert.Equal(t, notice, got)
		b.Acknowledge(env)
	case <-time.After(time.Second):
		t.Fatal("broadcast was never delivered")
	}

	b.Shutdown()
}

func TestBus_UnsubscribeWithQueuedEnvelopes(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := newTestBus(t, 4)

	_, unsubscribe := b.Subscribe(schemas.ActionImageSelected)
	require.NoError(t, b.Post(context.Background(), schemas.ActionImageSelected,
		schemas.ImageSelected{Src: "https://cdn.example.com/p/9.jpg"}))

	// Walk away without receiving; the queued envelope has no one left
	// to acknowledge it.
	unsubscribe()

	done := make(chan struct{})
	go func() {
		b.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown never returned after an unsubscribe left envelopes queued")
	}
}

func TestBus_Post_NoSubscribers(t *testing.T) {
	b := newTestBus(t, 0)
	defer b.Shutdown()

	assert.NoError(t, b.Post(context.Background(), schemas.ActionReloadSettings, nil))
}

func TestBus_Post_CancellationUnblocks(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := newTestBus(t, 0)
	defer b.Shutdown()

	ch, unsubscribe := b.Subscribe(schemas.ActionEnableManualSelection)
	defer unsubscribe()
	_ = ch // never read, so Post blocks

	ctx, cancel := context.WithCancel(context.Background())
	postDone := make(chan error, 1)
	go func() {
		postDone <- b.Post(ctx, schemas.ActionEnableManualSelection, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-postDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Post did not return after context cancellation")
	}
}

func TestBus_ShutdownRefusesTraffic(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := newTestBus(t, 2)
	require.NoError(t, b.Handle(schemas.ActionCheckAvatar, func(context.Context, []byte) (any, error) {
		return schemas.CheckAvatarReply{Success: true, IsSafe: true}, nil
	}))

	b.Shutdown()

	assert.Error(t, b.Post(context.Background(), schemas.ActionReloadSettings, nil))
	assert.Error(t, b.Request(context.Background(), schemas.ActionCheckAvatar, nil, nil))

	ch, unsubscribe := b.Subscribe(schemas.ActionImageSelected)
	defer unsubscribe()
	_, open := <-ch
	assert.False(t, open, "post-shutdown subscriptions must be closed immediately")
}

func TestBus_ConcurrentPosters(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := newTestBus(t, 64)

	ch, unsubscribe := b.Subscribe(schemas.ActionImageSelected)
	defer unsubscribe()

	const posters = 8
	const perPoster = 10

	received := make(chan struct{}, posters*perPoster)
	var consumerWg sync.WaitGroup
	consumerWg.Add(1)
	go func() {
		defer consumerWg.Done()
		for env := range ch {
			b.Acknowledge(env)
			received <- struct{}{}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < posters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perPoster; j++ {
				assert.NoError(t, b.Post(context.Background(), schemas.ActionImageSelected,
					schemas.ImageSelected{Src: "x"}))
			}
		}()
	}
	wg.Wait()
	b.Shutdown()
	consumerWg.Wait()

	assert.Len(t, received, posters*perPoster)
}

func jsonUnmarshal(data []byte, out any) error {
	env := messaging.Envelope{Payload: data}
	return env.Decode(out)
}
