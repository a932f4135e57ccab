package writer

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"device-analytics/internal/environment"
	"device-analytics/internal/metrics"
	"device-analytics/internal/model"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.UnixMilli(1700000000000) }

func openTestWriter(t *testing.T, root string, policy Policy) *Writer {
	t.Helper()
	w, err := Open(Options{
		RootDir: root,
		Policy:  policy,
		Metrics: metrics.New(),
		Now:     fixedNow,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// crash 는 회전/정리 없이 프로세스가 죽은 상황을 흉내낸다.
func crash(w *Writer) {
	w.mu.Lock()
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.closed = true
	w.mu.Unlock()
	_ = w.lock.Unlock()
}

func readRecords(t *testing.T, path string) []model.Record {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var out []model.Record
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var r model.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), "line %q", sc.Text())
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func ev(name string) model.Event {
	return model.Event{Name: name, Category: model.UserAction}
}

func TestSizePolicy(t *testing.T) {
	p := SizePolicy{MaxBytes: 100}
	assert.False(t, p.ShouldRotate(99))
	assert.True(t, p.ShouldRotate(100))
	assert.True(t, p.ShouldRotate(5000))
	assert.False(t, SizePolicy{}.ShouldRotate(1<<40))
}

func TestWrite_AppendsRecordWithEnvironment(t *testing.T) {
	root := t.TempDir()
	w, err := Open(Options{
		RootDir:     root,
		Environment: environment.Static{"os": "linux", "app_version": "1.0"},
		Now:         fixedNow,
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write(model.Event{
		Name:       "purchase",
		Category:   model.UserAction,
		Attributes: model.AttributesOf(map[string]any{"app_version": "2.0", "amount": 3}),
	}))

	recs := readRecords(t, w.Path())
	require.Len(t, recs, 1)
	assert.Equal(t, "purchase", recs[0].Name)
	assert.Equal(t, "user_action", recs[0].Type)
	assert.Equal(t, uint8(1), recs[0].TypeID)
	assert.Equal(t, int64(1700000000000), recs[0].Ts)
	assert.Equal(t, "linux", recs[0].Attributes["os"])
	assert.Equal(t, "2.0", recs[0].Attributes["app_version"])
	assert.EqualValues(t, 3, recs[0].Attributes["amount"])
}

func TestWrite_NonFiniteFloatIsStringified(t *testing.T) {
	w := openTestWriter(t, t.TempDir(), nil)

	require.NoError(t, w.Write(model.Event{
		Name:       "ratio",
		Category:   model.Debug,
		Attributes: model.AttributesOf(map[string]any{"v": math.NaN(), "inf": math.Inf(-1)}),
	}))

	recs := readRecords(t, w.Path())
	require.Len(t, recs, 1)
	assert.Equal(t, "NaN", recs[0].Attributes["v"])
	assert.Equal(t, "-Inf", recs[0].Attributes["inf"])
}

func TestWrite_RejectsInvalidEvent(t *testing.T) {
	w := openTestWriter(t, t.TempDir(), nil)

	assert.ErrorIs(t, w.Write(model.Event{Category: model.Debug}), model.ErrEmptyName)
	assert.ErrorIs(t, w.Write(model.Event{Name: "x", Category: 42}), model.ErrUnknownCategory)

	_, err := os.Stat(w.Path())
	assert.True(t, os.IsNotExist(err), "invalid events must not create the current log")
}

func TestDurability_CrashBeforeRotation(t *testing.T) {
	root := t.TempDir()
	w := openTestWriter(t, root, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Write(ev(fmt.Sprintf("e%d", i))))
	}
	crash(w)

	// 쓰다 만 레코드
	f, err := os.OpenFile(filepath.Join(root, CurrentLogName), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(`{"name":"half","ty`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	w2 := openTestWriter(t, root, nil)
	recs := readRecords(t, w2.Path())
	require.Len(t, recs, 5)
	for i, r := range recs {
		assert.Equal(t, fmt.Sprintf("e%d", i), r.Name)
	}

	// 복구 후 새 이벤트는 깨끗한 새 줄로 이어진다.
	require.NoError(t, w2.Write(ev("after")))
	recs = readRecords(t, w2.Path())
	require.Len(t, recs, 6)
	assert.Equal(t, "after", recs[5].Name)
}

func TestRotation_ExactlyOnceAtCap(t *testing.T) {
	root := t.TempDir()

	probe := openTestWriter(t, filepath.Join(root, "probe"), nil)
	line, err := probe.encode(ev("e0"))
	require.NoError(t, err)
	lineLen := int64(len(line))

	w := openTestWriter(t, filepath.Join(root, "real"), SizePolicy{MaxBytes: 3*lineLen - 1})

	for i := 0; i < 4; i++ {
		require.NoError(t, w.Write(ev(fmt.Sprintf("e%d", i))))
	}

	batches, err := w.Store().List()
	require.NoError(t, err)
	require.Len(t, batches, 1)

	data, err := w.Store().Read(batches[0])
	require.NoError(t, err)
	assert.Equal(t, 3, bytes.Count(data, []byte("\n")))
	assert.Contains(t, string(data), `"name":"e2"`)
	assert.NotContains(t, string(data), `"name":"e3"`)

	recs := readRecords(t, w.Path())
	require.Len(t, recs, 1)
	assert.Equal(t, "e3", recs[0].Name)
	assert.Equal(t, lineLen, w.Size())
	assert.Equal(t, int64(1), atomic.LoadInt64(&w.metrics.RotationsTotal))
}

func TestRotation_OversizedEventRotatesAfterWrite(t *testing.T) {
	w := openTestWriter(t, t.TempDir(), SizePolicy{MaxBytes: 10})

	require.NoError(t, w.Write(ev("much-longer-than-ten-bytes")))

	batches, err := w.Store().List()
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Greater(t, batches[0].Size, int64(10))
	assert.Equal(t, int64(0), w.Size())
}

func TestRotate_NoopWithoutContent(t *testing.T) {
	w := openTestWriter(t, t.TempDir(), nil)

	_, rotated, err := w.Rotate()
	require.NoError(t, err)
	assert.False(t, rotated)

	require.NoError(t, w.Write(ev("one")))
	b, rotated, err := w.Rotate()
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.NotEmpty(t, b.ID)

	_, rotated, err = w.Rotate()
	require.NoError(t, err)
	assert.False(t, rotated)

	batches, err := w.Store().List()
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestWrite_ConcurrentCallersDoNotInterleave(t *testing.T) {
	w := openTestWriter(t, t.TempDir(), SizePolicy{MaxBytes: 4096})

	const workers, perWorker = 8, 100
	var wg sync.WaitGroup
	for g := 0; g < workers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				assert.NoError(t, w.Write(ev(fmt.Sprintf("w%d-%d", g, i))))
			}
		}(g)
	}
	wg.Wait()
	_, _, err := w.Rotate()
	require.NoError(t, err)

	batches, err := w.Store().List()
	require.NoError(t, err)
	require.Greater(t, len(batches), 1)

	seen := map[string]int{}
	for _, b := range batches {
		for _, r := range readRecords(t, b.Path) {
			seen[r.Name]++
		}
	}
	assert.Len(t, seen, workers*perWorker)
	for name, n := range seen {
		assert.Equal(t, 1, n, name)
	}
}

func TestWrite_FailureKeepsWriterUsable(t *testing.T) {
	w := openTestWriter(t, t.TempDir(), nil)
	require.NoError(t, w.Write(ev("ok-1")))

	// 읽기 전용 핸들로 바꿔 write 실패를 만든다.
	w.mu.Lock()
	_ = w.f.Close()
	ro, err := os.Open(w.path)
	require.NoError(t, err)
	w.f = ro
	w.mu.Unlock()

	err = w.Write(ev("lost"))
	assert.ErrorIs(t, err, ErrWrite)
	assert.Equal(t, int64(1), atomic.LoadInt64(&w.metrics.WriteErrorsTotal))

	require.NoError(t, w.Write(ev("ok-2")))
	recs := readRecords(t, w.Path())
	require.Len(t, recs, 2)
	assert.Equal(t, "ok-1", recs[0].Name)
	assert.Equal(t, "ok-2", recs[1].Name)
}

func TestOpen_SecondWriterIsLocked(t *testing.T) {
	root := t.TempDir()
	w := openTestWriter(t, root, nil)

	_, err := Open(Options{RootDir: root})
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, w.Close())
	w2, err := Open(Options{RootDir: root})
	require.NoError(t, err)
	require.NoError(t, w2.Close())
}

func TestClose_RejectsLaterWrites(t *testing.T) {
	w := openTestWriter(t, t.TempDir(), nil)
	require.NoError(t, w.Write(ev("a")))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.Write(ev("b")), ErrClosed)
	_, _, err := w.Rotate()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLastNewlineEnd(t *testing.T) {
	cases := map[string]int64{
		"":            0,
		"abc":         0,
		"a\n":         2,
		"a\nbc":       2,
		"a\nb\n":      4,
		"\n" + "xxxx": 1,
	}
	for in, want := range cases {
		got, err := lastNewlineEnd(bytes.NewReader([]byte(in)), int64(len(in)))
		require.NoError(t, err)
		assert.Equal(t, want, got, "%q", in)
	}

	big := append(bytes.Repeat([]byte("x"), 10000), '\n')
	big = append(big, bytes.Repeat([]byte("y"), 9000)...)
	got, err := lastNewlineEnd(bytes.NewReader(big), int64(len(big)))
	require.NoError(t, err)
	assert.Equal(t, int64(10001), got)
}
