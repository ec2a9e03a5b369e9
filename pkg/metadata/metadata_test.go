package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudautopkg/runner/pkg/report"
)

type fakeReader struct {
	attrs    map[string]map[string]string
	sizes    map[string]int64
	failOn   string
	inFlight int32
	maxSeen  int32
	calls    atomic.Int32
	gate     chan struct{}
}

func (f *fakeReader) track() func() {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		m := atomic.LoadInt32(&f.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxSeen, m, n) {
			break
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	return func() { atomic.AddInt32(&f.inFlight, -1) }
}

func (f *fakeReader) GetAttribute(_ context.Context, path, name string) (*string, error) {
	defer f.track()()
	f.calls.Add(1)
	if f.failOn == path+"#"+name {
		return nil, errors.New("io error")
	}
	v, ok := f.attrs[path][name]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (f *fakeReader) GetSize(_ context.Context, path string) (*int64, error) {
	defer f.track()()
	f.calls.Add(1)
	if f.failOn == path+"#size" {
		return nil, errors.New("stat failed")
	}
	v, ok := f.sizes[path]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func fixedNow() time.Time {
	return time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
}

func TestExtractDownloadPaths(t *testing.T) {
	assert.Empty(t, ExtractDownloadPaths(nil))
	assert.Equal(t, []string{"/a.dmg", "/c.pkg"}, ExtractDownloadPaths([]report.DownloadedItem{
		{DownloadPath: "/a.dmg"},
		{},
		{DownloadPath: "/c.pkg"},
	}))
}

func TestCollect(t *testing.T) {
	reader := &fakeReader{
		attrs: map[string]map[string]string{
			"/tmp/x.dmg": {AttrETag: `"abc"`, AttrLastModified: "Wed, 21 Oct 2015 07:28:00 GMT"},
			"/tmp/y.pkg": {AttrETag: `"def"`},
		},
		sizes: map[string]int64{"/tmp/x.dmg": 1024, "/tmp/y.pkg": 2048},
	}
	c := &Collector{Reader: reader, Logger: zerolog.Nop(), Now: fixedNow}

	rc, err := c.Collect(context.Background(), []report.DownloadedItem{
		{DownloadPath: "/tmp/x.dmg"},
		{DownloadPath: "/tmp/y.pkg"},
	})
	require.NoError(t, err)

	assert.Equal(t, "2025-03-14 09:26:53.589793+00:00", rc.Timestamp)
	require.Len(t, rc.Metadata, 2)
	assert.Equal(t, int32(6), reader.calls.Load())

	byPath := map[string]DownloadMetadata{}
	for _, m := range rc.Metadata {
		byPath[m.FilePath] = m
	}
	x := byPath["/tmp/x.dmg"]
	require.NotNil(t, x.ETag)
	assert.Equal(t, `"abc"`, *x.ETag)
	assert.Equal(t, int64(1024), *x.FileSize)
	assert.Equal(t, "Wed, 21 Oct 2015 07:28:00 GMT", *x.LastModified)

	y := byPath["/tmp/y.pkg"]
	assert.Nil(t, y.LastModified, "missing attribute stays absent")
}

func TestCollectEmpty(t *testing.T) {
	c := &Collector{Reader: &fakeReader{}, Logger: zerolog.Nop(), Now: fixedNow}
	rc, err := c.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, rc.Metadata)
}

func TestCollectRunsConcurrently(t *testing.T) {
	reader := &fakeReader{gate: make(chan struct{})}
	c := &Collector{Reader: reader, Logger: zerolog.Nop(), Now: fixedNow}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = c.Collect(context.Background(), []report.DownloadedItem{
			{DownloadPath: "/a"}, {DownloadPath: "/b"},
		})
	}()

	// All six fetches must be in flight before any is released.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&reader.inFlight) == 6
	}, 2*time.Second, 5*time.Millisecond)
	close(reader.gate)
	wg.Wait()

	assert.Equal(t, int32(6), atomic.LoadInt32(&reader.maxSeen))
}

func TestCollectFailFast(t *testing.T) {
	reader := &fakeReader{
		sizes:  map[string]int64{"/a": 1, "/b": 2},
		failOn: "/b#" + AttrLastModified,
	}
	c := &Collector{Reader: reader, Logger: zerolog.Nop(), Now: fixedNow}

	_, err := c.Collect(context.Background(), []report.DownloadedItem{
		{DownloadPath: "/a"}, {DownloadPath: "/b"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last_modified")
	assert.Contains(t, err.Error(), "/b")
}

func TestCollectBestEffort(t *testing.T) {
	reader := &fakeReader{
		sizes:  map[string]int64{"/a": 1},
		failOn: "/a#size",
	}
	c := &Collector{Reader: reader, Policy: BestEffort, Logger: zerolog.Nop(), Now: fixedNow}

	rc, err := c.Collect(context.Background(), []report.DownloadedItem{{DownloadPath: "/a"}})
	require.NoError(t, err)
	require.Len(t, rc.Metadata, 1)
	assert.Nil(t, rc.Metadata[0].FileSize)
	assert.Equal(t, "best-effort", BestEffort.String())
}

func TestDownloadMetadataJSON(t *testing.T) {
	data, err := json.Marshal(DownloadMetadata{FilePath: "/a", FileSize: Int64Ptr(5)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"etag":null,"file_path":"/a","file_size":5,"last_modified":null}`, string(data))
}

func TestXattrAttributes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.dmg")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	a := XattrAttributes{}
	size, err := a.GetSize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), *size)

	// Never set, so absent everywhere: ENOATTR on macOS, ENOTSUP for
	// non-user namespaces on Linux.
	v, err := a.GetAttribute(context.Background(), path, AttrETag)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = a.GetSize(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

type recordingWriter struct {
	mu    sync.Mutex
	attrs map[string]string
}

func (w *recordingWriter) SetAttribute(_ context.Context, path, name, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.attrs == nil {
		w.attrs = map[string]string{}
	}
	w.attrs[path+"#"+name] = value
	return nil
}

func TestCreateDummyFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.dmg")
	require.NoError(t, os.WriteFile(existing, []byte("keep"), 0o600))

	newFile := filepath.Join(dir, "downloads", "Foo.dmg")
	cache := MetadataCache{
		"Foo.recipe": {
			Timestamp: FormatTimestamp(fixedNow()),
			Metadata: []DownloadMetadata{
				{FilePath: newFile, FileSize: Int64Ptr(4096), ETag: StringPtr(`"e1"`), LastModified: StringPtr("yesterday")},
				{FilePath: existing, FileSize: Int64Ptr(99)},
				{FilePath: filepath.Join(dir, "nosize.dmg")},
			},
		},
		"Bar.recipe": {
			Metadata: []DownloadMetadata{
				{FilePath: filepath.Join(dir, "bar.pkg"), FileSize: Int64Ptr(1)},
			},
		},
	}

	w := &recordingWriter{}
	n, err := CreateDummyFiles(context.Background(), []string{"Foo.recipe", "Missing.recipe"}, cache, w, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	info, err := os.Stat(newFile)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	_, err = os.Stat(filepath.Join(dir, "nosize.dmg"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "bar.pkg"))
	assert.True(t, os.IsNotExist(err), "recipes outside the list are skipped")

	keys := make([]string, 0, len(w.attrs))
	for k := range w.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{newFile + "#" + AttrETag, newFile + "#" + AttrLastModified}, keys)
}

func TestCreateDummyFilesSharedPath(t *testing.T) {
	dir := t.TempDir()
	shared := filepath.Join(dir, "shared.dmg")
	entry := DownloadMetadata{FilePath: shared, FileSize: Int64Ptr(512), ETag: StringPtr(`"s"`)}
	cache := MetadataCache{
		"Foo.recipe": {Metadata: []DownloadMetadata{entry}},
		"Bar.recipe": {Metadata: []DownloadMetadata{entry}},
	}

	w := &recordingWriter{}
	n, err := CreateDummyFiles(context.Background(), []string{"Foo.recipe", "Bar.recipe"}, cache, w, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	info, err := os.Stat(shared)
	require.NoError(t, err)
	assert.Equal(t, int64(512), info.Size())
	assert.Equal(t, `"s"`, w.attrs[shared+"#"+AttrETag])
}

func TestCreateDummyFileAlreadyCreated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raced.dmg")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o600))

	created, err := createDummyFile(context.Background(), DownloadMetadata{FilePath: path, FileSize: Int64Ptr(64)}, &recordingWriter{})
	require.NoError(t, err)
	assert.False(t, created)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestCreateDummyFilesSkips(t *testing.T) {
	dir := t.TempDir()
	zero := filepath.Join(dir, "zero.dmg")
	cache := MetadataCache{
		"Foo.recipe": {Metadata: []DownloadMetadata{{FilePath: zero, FileSize: Int64Ptr(0)}}},
		"Bar.recipe": {Metadata: []DownloadMetadata{{FilePath: filepath.Join(dir, "bar.dmg"), FileSize: Int64Ptr(8)}}},
	}

	n, err := CreateDummyFiles(context.Background(), []string{"Foo.recipe"}, cache, &recordingWriter{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = os.Stat(zero)
	assert.True(t, os.IsNotExist(err), "a zero file_size is skipped")

	n, err = CreateDummyFiles(context.Background(), nil, cache, &recordingWriter{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, n, "an empty recipe list processes nothing")
}
