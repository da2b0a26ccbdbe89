// File: internal/watcher/watcher_test.go
package watcher

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
	"github.com/fitchecklabs/fitcheck-cli/internal/classifier"
	"github.com/fitchecklabs/fitcheck-cli/internal/config"
	"github.com/fitchecklabs/fitcheck-cli/internal/messaging"
	"github.com/fitchecklabs/fitcheck-cli/internal/profile"
)

// fakePage records script activity and lets tests drive the binding.
type fakePage struct {
	mu         sync.Mutex
	evaluated  []string
	persisted  []string
	binding    func(payload string)
	collected  []pageImage
	currentURL string
}

var _ schemas.Page = (*fakePage)(nil)

func (f *fakePage) Navigate(context.Context, string) error { return nil }

func (f *fakePage) Evaluate(_ context.Context, expression string, out any) error {
	f.mu.Lock()
	f.evaluated = append(f.evaluated, expression)
	collected := f.collected
	f.mu.Unlock()

	if out != nil && strings.Contains(expression, "collect()") {
		raw, err := json.Marshal(collected)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, out)
	}
	return nil
}

func (f *fakePage) ExposeFunction(_ context.Context, _ string, handler func(payload string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binding = handler
	return nil
}

func (f *fakePage) InjectScriptPersistently(_ context.Context, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted = append(f.persisted, source)
	return nil
}

func (f *fakePage) HTML(context.Context) (string, error) { return "", nil }

func (f *fakePage) URL(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentURL, nil
}

func (f *fakePage) Close() error { return nil }

func (f *fakePage) post(t *testing.T, payload string) {
	t.Helper()
	f.mu.Lock()
	binding := f.binding
	f.mu.Unlock()
	require.NotNil(t, binding, "binding was never exposed")
	binding(payload)
}

func (f *fakePage) evaluations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.evaluated))
	copy(out, f.evaluated)
	return out
}

func countMatching(exprs []string, substr string) int {
	n := 0
	for _, e := range exprs {
		if strings.Contains(e, substr) {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func productImage(src string) pageImage {
	return pageImage{Src: src, Alt: "kırmızı elbise", NaturalWidth: 800, NaturalHeight: 1000}
}

func newTestWatcher(t *testing.T, page *fakePage, opts ...Option) (*Watcher, *messaging.Bus) {
	t.Helper()
	bus := messaging.New(zap.NewNop(), 8)
	t.Cleanup(bus.Shutdown)

	w := New(
		page,
		bus,
		profile.Universal(),
		classifier.NewImageClassifier(config.ClassifierConfig{}),
		config.WatcherConfig{Debounce: 10 * time.Millisecond, EagerScan: true, ScanConcurrency: 2},
		zap.NewNop(),
		opts...,
	)
	return w, bus
}

func TestWatcherEagerScanAttachesAfterDebounce(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := &fakePage{collected: []pageImage{
		productImage("https://shop.example.com/img/dress-1.jpg"),
		{Src: "https://shop.example.com/img/logo.png", NaturalWidth: 800, NaturalHeight: 600},
	}}
	w, _ := newTestWatcher(t, page)

	require.NoError(t, w.Start(context.Background(), false))
	defer w.Stop()

	waitFor(t, func() bool {
		return countMatching(page.evaluations(), "attach(") == 1
	})
	assert.Equal(t, 1, w.ProcessedCount(), "the logo must be rejected")
	assert.Len(t, page.persisted, 1, "runtime must be registered for future documents")
}

func TestWatcherDeduplicatesBySource(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := &fakePage{}
	w, _ := newTestWatcher(t, page)
	require.NoError(t, w.Start(context.Background(), false))
	defer w.Stop()

	batch, err := json.MarshalToString(bindingEvent{
		Type: "images",
		Images: []pageImage{
			productImage("https://shop.example.com/img/dress-2.jpg"),
			productImage("https://shop.example.com/img/dress-2.jpg"),
		},
	})
	require.NoError(t, err)

	page.post(t, batch)
	page.post(t, batch)

	waitFor(t, func() bool { return w.ProcessedCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, countMatching(page.evaluations(), "attach("))
}

func TestWatcherManualModeAttachesImmediately(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := &fakePage{}
	w, _ := newTestWatcher(t, page)
	require.NoError(t, w.Start(context.Background(), true))
	defer w.Stop()

	assert.True(t, w.Manual())
	assert.Equal(t, 1, countMatching(page.evaluations(), "setMode(\"manual\")")+countMatching(page.evaluations(), "setMode('manual')"))

	batch, err := json.MarshalToString(bindingEvent{
		Type:   "images",
		Images: []pageImage{productImage("https://shop.example.com/img/dress-3.jpg")},
	})
	require.NoError(t, err)
	page.post(t, batch)

	waitFor(t, func() bool {
		return countMatching(page.evaluations(), "attach(") == 1
	})
}

func TestWatcherModeCommands(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := &fakePage{}
	w, bus := newTestWatcher(t, page)
	require.NoError(t, w.Start(context.Background(), false))
	defer w.Stop()

	ctx := context.Background()
	require.NoError(t, bus.Post(ctx, schemas.ActionEnableManualSelection, nil))
	waitFor(t, w.Manual)

	require.NoError(t, bus.Post(ctx, schemas.ActionClearImageSelection, nil))
	waitFor(t, func() bool {
		return countMatching(page.evaluations(), "clearSelection()") == 1
	})

	require.NoError(t, bus.Post(ctx, schemas.ActionDisableManualSelection, nil))
	waitFor(t, func() bool { return !w.Manual() })
}

func TestWatcherReloadSettingsSwitchesMode(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := &fakePage{}
	settings := func(context.Context) (schemas.SettingsRecord, error) {
		return schemas.SettingsRecord{AutoDetectEnabled: true, ManualSelectionEnabled: true}, nil
	}
	w, bus := newTestWatcher(t, page, WithSettings(settings))
	require.NoError(t, w.Start(context.Background(), false))
	defer w.Stop()

	require.NoError(t, bus.Post(context.Background(), schemas.ActionReloadSettings, nil))
	waitFor(t, w.Manual)
}

func TestWatcherPublishesManualSelection(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := &fakePage{currentURL: "https://shop.example.com/product/dress"}
	w, bus := newTestWatcher(t, page)

	selections, unsubscribe := bus.Subscribe(schemas.ActionImageSelected)
	defer unsubscribe()

	require.NoError(t, w.Start(context.Background(), true))
	defer w.Stop()

	img := productImage("https://cdn.example.com/dress-4.jpg")
	payload, err := json.MarshalToString(bindingEvent{Type: "selected", Image: &img})
	require.NoError(t, err)
	page.post(t, payload)

	select {
	case env := <-selections:
		var sel schemas.ImageSelected
		require.NoError(t, env.Decode(&sel))
		assert.Equal(t, img.Src, sel.Src)
		assert.Equal(t, "shop.example.com", sel.Domain)
		assert.Equal(t, 800, sel.Dimensions.Width)
		assert.Equal(t, 1000, sel.Dimensions.Height)
	case <-time.After(2 * time.Second):
		t.Fatal("no IMAGE_SELECTED notification arrived")
	}
}

func TestWatcherTryOnClickInvokesHandler(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := &fakePage{}
	clicked := make(chan string, 1)
	w, _ := newTestWatcher(t, page, WithTryOnHandler(func(_ context.Context, src string) {
		clicked <- src
	}))
	require.NoError(t, w.Start(context.Background(), false))
	defer w.Stop()

	payload, err := json.MarshalToString(bindingEvent{Type: "tryon", Src: "https://cdn.example.com/dress-5.jpg"})
	require.NoError(t, err)
	page.post(t, payload)

	select {
	case src := <-clicked:
		assert.Equal(t, "https://cdn.example.com/dress-5.jpg", src)
	case <-time.After(2 * time.Second):
		t.Fatal("try-on handler was never invoked")
	}
}

func TestWatcherStopCancelsPendingTimers(t *testing.T) {
	defer goleak.VerifyNone(t)

	page := &fakePage{}
	w, _ := newTestWatcher(t, page)
	// A long debounce so the timer is guaranteed pending at Stop.
	w.cfg.Debounce = time.Hour

	require.NoError(t, w.Start(context.Background(), false))

	batch, err := json.MarshalToString(bindingEvent{
		Type:   "images",
		Images: []pageImage{productImage("https://shop.example.com/img/dress-6.jpg")},
	})
	require.NoError(t, err)
	page.post(t, batch)
	waitFor(t, func() bool { return w.ProcessedCount() == 1 })

	w.Stop()

	assert.Equal(t, 0, countMatching(page.evaluations(), "attach("))
	assert.Equal(t, 1, countMatching(page.evaluations(), "stop()"))

	// Stop twice is safe.
	w.Stop()
}
