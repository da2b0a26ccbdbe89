// internal/browser/page_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCombineContext_SecondaryCancelPropagates(t *testing.T) {
	primary := context.Background()
	secondary, cancelSecondary := context.WithCancel(context.Background())

	combined, cleanup := combineContext(primary, secondary)
	defer cleanup()

	cancelSecondary()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context did not observe secondary cancellation")
	}
}

func TestCombineContext_PrimaryCancelPropagates(t *testing.T) {
	primary, cancelPrimary := context.WithCancel(context.Background())
	secondary := context.Background()

	combined, cleanup := combineContext(primary, secondary)
	defer cleanup()

	cancelPrimary()

	select {
	case <-combined.Done():
	case <-time.After(time.Second):
		t.Fatal("combined context did not observe primary cancellation")
	}
}

func TestCombineContext_CleanupCancels(t *testing.T) {
	combined, cleanup := combineContext(context.Background(), context.Background())
	cleanup()

	assert.ErrorIs(t, combined.Err(), context.Canceled)
}
