package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/CrimeSight-Intelligence/internal/application/snapshot"
	"github.com/turtacn/CrimeSight-Intelligence/internal/domain/allocation"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/errors"
	"github.com/turtacn/CrimeSight-Intelligence/pkg/types/geo"
)

type mockObjectAPI struct {
	mock.Mock
}

func (m *mockObjectAPI) BucketExists(ctx context.Context, bucket string) (bool, error) {
	args := m.Called(ctx, bucket)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectAPI) MakeBucket(ctx context.Context, bucket, region string) error {
	return m.Called(ctx, bucket, region).Error(0)
}

func (m *mockObjectAPI) SetExpiry(ctx context.Context, bucket, prefix string, days int) error {
	return m.Called(ctx, bucket, prefix, days).Error(0)
}

func (m *mockObjectAPI) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string, meta map[string]string) error {
	body, _ := io.ReadAll(r)
	return m.Called(ctx, bucket, key, body, size, contentType, meta).Error(0)
}

func (m *mockObjectAPI) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, bucket, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *mockObjectAPI) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	args := m.Called(ctx, bucket, prefix)
	objs, _ := args.Get(0).([]ObjectInfo)
	return objs, args.Error(1)
}

func publishedSnapshot(t *testing.T) *snapshot.Snapshot {
	t.Helper()
	store := snapshot.NewStore()
	return store.Swap(snapshot.Data{
		Zones:         []allocation.Zone{{ID: "z1", Name: "Harbor", Center: geo.Point{Lat: 40.7, Lon: -74.0}, DemandLevel: 0.8}},
		Jurisdictions: []string{"north"},
	}, time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC))
}

func TestArchive_ObjectKeySortsByLoadTime(t *testing.T) {
	a := NewArchive(&mockObjectAPI{}, "b", "crime_analysis", logging.NewNopLogger())
	snap := publishedSnapshot(t)

	key := a.ObjectKey(snap)
	assert.Equal(t, "snapshots/crime_analysis/20240501T083000.000000000Z-000001-"+snap.Label+".json", key)

	later := *snap
	later.Version = 1
	later.LoadedAt = snap.LoadedAt.Add(time.Second)
	assert.Greater(t, a.ObjectKey(&later), key)
}

func TestArchive_Archive(t *testing.T) {
	api := &mockObjectAPI{}
	a := NewArchive(api, "crimesight-snapshots", "", logging.NewNopLogger())
	snap := publishedSnapshot(t)
	key := a.ObjectKey(snap)

	api.On("PutObject", mock.Anything, "crimesight-snapshots", key, mock.Anything, mock.Anything, "application/json",
		map[string]string{"snapshot-version": "1", "snapshot-label": snap.Label}).Return(nil).Once()

	require.NoError(t, a.Archive(context.Background(), snap))
	api.AssertExpectations(t)

	body := api.Calls[0].Arguments.Get(3).([]byte)
	assert.EqualValues(t, len(body), api.Calls[0].Arguments.Get(4))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.EqualValues(t, 1, decoded["version"])
	assert.Len(t, decoded["zones"], 1)
}

func TestArchive_ArchiveErrors(t *testing.T) {
	api := &mockObjectAPI{}
	a := NewArchive(api, "b", "x", logging.NewNopLogger())

	err := a.Archive(context.Background(), nil)
	assert.True(t, errors.IsValidation(err))

	api.On("PutObject", mock.Anything, "b", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(fmt.Errorf("connection reset"))
	err = a.Archive(context.Background(), publishedSnapshot(t))
	assert.True(t, errors.IsCode(err, errors.ErrCodeStorageError))
}

func TestArchive_LoadNewest(t *testing.T) {
	api := &mockObjectAPI{}
	a := NewArchive(api, "b", "x", logging.NewNopLogger())
	snap := publishedSnapshot(t)
	body, err := json.Marshal(snap)
	require.NoError(t, err)

	api.On("ListObjects", mock.Anything, "b", "snapshots/x/").Return([]ObjectInfo{
		{Key: "snapshots/x/20240101T000000.000000000Z-000009-old.json"},
		{Key: "snapshots/x/20240501T083000.000000000Z-000001-new.json"},
		{Key: "snapshots/x/README"},
	}, nil)
	api.On("GetObject", mock.Anything, "b", "snapshots/x/20240501T083000.000000000Z-000001-new.json").
		Return(io.NopCloser(bytes.NewReader(body)), nil)

	d, err := a.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snap.Zones, d.Zones)
	assert.Equal(t, []string{"north"}, d.Jurisdictions)
}

func TestArchive_LoadEmptyArchive(t *testing.T) {
	api := &mockObjectAPI{}
	api.On("ListObjects", mock.Anything, "b", "snapshots/x/").Return([]ObjectInfo(nil), nil)

	_, err := NewArchive(api, "b", "x", logging.NewNopLogger()).Load(context.Background())
	assert.True(t, errors.IsUnavailable(err))
}

func TestArchive_LoadCorruptObject(t *testing.T) {
	api := &mockObjectAPI{}
	api.On("ListObjects", mock.Anything, "b", "snapshots/x/").Return([]ObjectInfo{{Key: "snapshots/x/a.json"}}, nil)
	api.On("GetObject", mock.Anything, "b", "snapshots/x/a.json").Return(io.NopCloser(bytes.NewReader([]byte("{"))), nil)

	_, err := NewArchive(api, "b", "x", logging.NewNopLogger()).Load(context.Background())
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))
}

func TestArchive_EnsureRetention(t *testing.T) {
	api := &mockObjectAPI{}
	a := NewArchive(api, "b", "x", logging.NewNopLogger())

	require.NoError(t, a.EnsureRetention(context.Background(), 0))
	api.AssertNotCalled(t, "SetExpiry", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	api.On("SetExpiry", mock.Anything, "b", "snapshots/x/", 30).Return(nil).Once()
	require.NoError(t, a.EnsureRetention(context.Background(), 30))
	api.AssertExpectations(t)
}
