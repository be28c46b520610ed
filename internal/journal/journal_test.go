// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readableJournal interface {
	Journal
	Reader
}

func backends(t *testing.T) map[string]readableJournal {
	t.Helper()
	sq, err := NewSQLite(filepath.Join(t.TempDir(), "journal.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]readableJournal{
		BackendMemory: NewMemory(),
		BackendSQLite: sq,
	}
}

func TestJournalLifecycle(t *testing.T) {
	start := time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)
	ts := start.Add(2 * time.Second)

	for name, j := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := j.StartRecording(ctx, start, "/data/video/2025/03/20250301T180000Z", "somechannel")
			require.NoError(t, err)
			require.NotZero(t, id)

			require.NoError(t, j.UpdateStreamSnapshot(ctx, id, "4711", `{"id":"4711"}`))
			require.NoError(t, j.UpdateDelayedStreamSnapshot(ctx, id, "4711", `{"id":"4711","viewer_count":3}`))

			require.NoError(t, j.StartFile(ctx, id, "00101.ts", 101, 2.0, ts))
			require.NoError(t, j.StartFile(ctx, id, "00100.ts", 100, 2.0, start))
			require.NoError(t, j.UpdateFileExpectedSize(ctx, id, "00100.ts", 1000))
			require.NoError(t, j.UpdateFileDownloadedSize(ctx, id, "00100.ts", 1000))
			require.NoError(t, j.UpdateFileStatus(ctx, id, "00100.ts", StatusDone))
			require.NoError(t, j.UpdateFileStatus(ctx, id, "00101.ts", StatusError))

			stop := start.Add(time.Hour)
			require.NoError(t, j.StopRecording(ctx, stop, id))

			rec, err := j.Recording(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "somechannel", rec.Channel)
			assert.Equal(t, "4711", rec.StreamID10)
			assert.True(t, rec.Start.Equal(start))
			require.NotNil(t, rec.Stop)
			assert.True(t, rec.Stop.Equal(stop))

			files, err := j.Files(ctx, id)
			require.NoError(t, err)
			want := []File{
				{RecordingID: id, Name: "00100.ts", Seq: 100, Duration: 2, Timestamp: start, ExpectedSize: 1000, DownloadedSize: 1000, Status: StatusDone},
				{RecordingID: id, Name: "00101.ts", Seq: 101, Duration: 2, Timestamp: ts, Status: StatusError},
			}
			if diff := cmp.Diff(want, files, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
				t.Errorf("Files() mismatch (-want +got):\n%s", diff)
			}

			second, err := j.StartRecording(ctx, stop, "/data/other", "somechannel")
			require.NoError(t, err)
			assert.Greater(t, second, id)
		})
	}
}

func TestJournalUnknownRecording(t *testing.T) {
	for name, j := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := j.Recording(context.Background(), 999)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestNilHandleIsNoop(t *testing.T) {
	var h *Handle
	ctx := context.Background()

	assert.Zero(t, h.StartRecording(ctx, time.Now(), "/x", "c"))
	h.StopRecording(ctx, time.Now(), 1)
	h.StartFile(ctx, 1, "a.ts", 1, 2, time.Now())
	h.UpdateFileStatus(ctx, 1, "a.ts", StatusDone)
	assert.NoError(t, h.Ping(ctx))
	assert.NoError(t, h.Close())
	assert.Equal(t, BackendNone, h.Backend())
	assert.Nil(t, h.Journal())
}

func TestHandleSwallowsBackendErrors(t *testing.T) {
	mem := NewMemory()
	h := NewHandle(BackendMemory, mem)
	ctx := context.Background()

	// Unknown recording: the backend errors, the handle only logs.
	h.StartFile(ctx, 42, "a.ts", 1, 2, time.Now())

	id := h.StartRecording(ctx, time.Now(), "/x", "c")
	require.NotZero(t, id)
	h.StartFile(ctx, id, "a.ts", 1, 2, time.Now())
	h.UpdateFileStatus(ctx, id, "a.ts", StatusDone)

	files, err := mem.Files(ctx, id)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, StatusDone, files[0].Status)
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	h, err := Open(ctx, Config{Backend: BackendNone})
	require.NoError(t, err)
	assert.Nil(t, h)

	h, err = Open(ctx, Config{Backend: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "j.sqlite")})
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, BackendSQLite, h.Backend())
	assert.NoError(t, h.Ping(ctx))
	assert.NoError(t, h.Close())

	_, err = Open(ctx, Config{Backend: "etcd"})
	require.Error(t, err)
}
