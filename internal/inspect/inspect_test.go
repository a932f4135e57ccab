package inspect

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"device-analytics/internal/model"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoRecords = `{"name":"a","type":"user_action","type_id":1,"ts":10}

{"name":"b","type":"crash","type_id":8,"ts":20,"attributes":{"signal":"SIGSEGV"}}
`

func TestDecodeBatch_Plain(t *testing.T) {
	recs, err := DecodeBatch(strings.NewReader(twoRecords))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Name)
	assert.Equal(t, "crash", recs[1].Type)
	assert.Equal(t, "SIGSEGV", recs[1].Attributes["signal"])
}

func TestReadBatchFile_Gzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(twoRecords))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "batch.jsonl.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	recs, err := ReadBatchFile(path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(20), recs[1].Ts)
}

func TestDecodeBatch_BrokenLine(t *testing.T) {
	recs, err := DecodeBatch(strings.NewReader(`{"name":"a","type_id":1}` + "\n" + `{"name":`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.Len(t, recs, 1)
}

func TestDecodeBatch_LongLine(t *testing.T) {
	blob := strings.Repeat("z", 5*1024*1024)
	in := `{"name":"small","type_id":4}` + "\n" + `{"name":"huge","type_id":4,"attributes":{"blob":"` + blob + `"}}`

	recs, err := DecodeBatch(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "huge", recs[1].Name)
	assert.Equal(t, blob, recs[1].Attributes["blob"])
}

func TestFollow_SeesAppendsAndRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current_log")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"before","type_id":1}`+"\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		names []string
	)
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, path, FollowOptions{FromStart: true, Poll: true}, func(r model.Record) {
			mu.Lock()
			names = append(names, r.Name)
			mu.Unlock()
		})
	}()
	seen := func(n int) func() bool {
		return func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(names) == n
		}
	}

	require.Eventually(t, seen(1), 5*time.Second, 20*time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(`{"name":"appended","type_id":4}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Eventually(t, seen(2), 5*time.Second, 20*time.Millisecond)

	// 회전: rename 후 새 파일
	require.NoError(t, os.Rename(path, filepath.Join(dir, "rotated.jsonl")))
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"fresh","type_id":2}`+"\n"), 0o644))
	require.Eventually(t, seen(3), 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"before", "appended", "fresh"}, names)
}
