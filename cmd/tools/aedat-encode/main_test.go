package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eventcam/internal/aedat"
	"github.com/banshee-data/eventcam/internal/events"
	"github.com/banshee-data/eventcam/internal/sparse"
	"github.com/banshee-data/eventcam/internal/store"
	"github.com/banshee-data/eventcam/internal/testutil"
)

func TestEncodeAllOutputs(t *testing.T) {
	testutil.MuteLogs(t)
	dir := t.TempDir()

	evts := testutil.PolarityEvents(4, 50)
	invalid := events.PolarityEvent{Timestamp: 60, X: 9, Y: 9}
	var buf bytes.Buffer
	w := aedat.NewWriter(&buf, 1)
	require.NoError(t, w.WriteRaw(append(evts[:2:2], invalid)))
	require.NoError(t, w.WriteRaw(evts[2:]))
	in := filepath.Join(dir, "rec.aedat")
	require.NoError(t, os.WriteFile(in, buf.Bytes(), 0o600))

	opts := Options{
		In:     in,
		Out:    filepath.Join(dir, "batch.spev"),
		Plot:   filepath.Join(dir, "plot.png"),
		DBPath: filepath.Join(dir, "batches.db"),
		Width:  128,
		Height: 128,
	}
	summary, err := encode(context.Background(), opts)
	require.NoError(t, err)
	assert.Contains(t, summary, "4 polarity events")
	assert.Contains(t, summary, "t=[50, 53]")
	assert.Contains(t, summary, "stored as ")

	f, err := os.Open(opts.Out)
	require.NoError(t, err)
	defer f.Close()
	b, err := sparse.ReadBatch(f)
	require.NoError(t, err)
	assert.Equal(t, sparse.Encode(evts).Indices(), b.Indices())

	info, err := os.Stat(opts.Plot)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	st, err := store.Open(opts.DBPath)
	require.NoError(t, err)
	defer st.Close()
	list, err := st.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "rec.aedat", list[0].Source)
}

func TestEncodeRejectsNonAEDAT(t *testing.T) {
	in := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(in, []byte("hello\n"), 0o600))
	_, err := encode(context.Background(), Options{In: in})
	assert.ErrorIs(t, err, aedat.ErrNotAEDAT)
}
