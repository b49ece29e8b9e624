package s3

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryBucket) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

func (m *memoryBucket) ListFrameKeys(_ context.Context, _, folder, after string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if k > after && len(k) > len(folder) && k[:len(folder)] == folder {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *memoryBucket) GetFrame(_ context.Context, _, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key], nil
}

func TestParseSource(t *testing.T) {
	bucket, folder, err := ParseSource("http://localhost:9000/frames/call-1")
	require.NoError(t, err)
	assert.Equal(t, "frames", bucket)
	assert.Equal(t, "call-1", folder)

	bucket, folder, err = ParseSource("frames/call-2/cam")
	require.NoError(t, err)
	assert.Equal(t, "frames", bucket)
	assert.Equal(t, "call-2/cam", folder)

	_, _, err = ParseSource("frames")
	assert.Error(t, err)
}

func TestFrameSourceDeliversInOrderAndPolls(t *testing.T) {
	bucket := &memoryBucket{objects: map[string][]byte{
		"call-1/0002.jpg": []byte("b"),
		"call-1/0001.jpg": []byte("a"),
		"other/0001.jpg":  []byte("x"),
	}}

	src, err := NewFrameSource(bucket, "call-1", "frames/call-1", 10*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames := src.Frames(ctx)

	next := func() string {
		select {
		case f := <-frames:
			assert.Equal(t, "call-1", f.SessionID)
			return string(f.Data)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for frame")
			return ""
		}
	}

	assert.Equal(t, "a", next())
	assert.Equal(t, "b", next())

	bucket.put("call-1/0003.jpg", []byte("c"))
	assert.Equal(t, "c", next())

	cancel()
	for range frames {
	}
}
