// File: internal/store/memory_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
)

func TestMemoryStore_Avatar(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetAvatar(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	rec := schemas.AvatarRecord{
		Base64:     "data:image/jpeg;base64,AAA=",
		FileName:   "me.jpg",
		UploadDate: time.Now().UTC(),
		FileSize:   1234,
	}
	require.NoError(t, s.SaveAvatar(ctx, rec))

	got, err := s.GetAvatar(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestMemoryStore_SettingsDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, schemas.DefaultSettings(), got)

	custom := schemas.SettingsRecord{ManualSelectionEnabled: true}
	require.NoError(t, s.SaveSettings(ctx, custom))

	got, err = s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, custom, got)
}

func TestMemoryStore_RemoteConfig(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetRemoteConfig(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := schemas.RemoteConfig{APIKey: "k", ProjectID: "p"}
	require.NoError(t, s.SaveRemoteConfig(ctx, cfg))

	got, err := s.GetRemoteConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
	assert.True(t, got.Initialized())
}

func TestMemoryStore_TryOnHistoryOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := make([]string, 5)
	for i := 0; i < 5; i++ {
		ids[i] = uuid.New().String()
		require.NoError(t, s.AddTryOn(ctx, schemas.TryOnRecord{
			ID:        ids[i],
			PageURL:   "https://shop.example.com/p",
			Success:   i%2 == 0,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.ListTryOns(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	gotIDs := make([]string, len(got))
	for i, rec := range got {
		gotIDs[i] = rec.ID
	}
	if diff := cmp.Diff([]string{ids[4], ids[3], ids[2]}, gotIDs); diff != "" {
		t.Errorf("history order mismatch (-want +got):\n%s", diff)
	}
}
