package store

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"device-analytics/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestStore(t *testing.T) (*Store, string, *metrics.Metrics) {
	t.Helper()
	root := t.TempDir()
	m := metrics.New()
	s, err := New(filepath.Join(root, "logs_to_send"), m)
	require.NoError(t, err)
	return s, root, m
}

func TestAdopt_MovesFileAndAssignsID(t *testing.T) {
	s, root, m := newTestStore(t)
	src := filepath.Join(root, "current_log")
	writeFile(t, src, "{\"name\":\"a\"}\n")

	b, err := s.Adopt(src, time.Now())
	require.NoError(t, err)

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source must be moved, not copied")

	data, err := s.Read(b)
	require.NoError(t, err)
	assert.Equal(t, "{\"name\":\"a\"}\n", string(data))
	assert.Equal(t, int64(len(data)), b.Size)

	count, bytes := s.Stats()
	assert.Equal(t, int64(1), count)
	assert.Equal(t, b.Size, bytes)
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.BatchesPending))
}

func TestAdopt_MissingOrEmptyIsNoop(t *testing.T) {
	s, root, _ := newTestStore(t)

	_, err := s.Adopt(filepath.Join(root, "nope"), time.Now())
	assert.ErrorIs(t, err, ErrNothingToAdopt)

	empty := filepath.Join(root, "empty")
	writeFile(t, empty, "")
	_, err = s.Adopt(empty, time.Now())
	assert.ErrorIs(t, err, ErrNothingToAdopt)

	batches, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestList_OldestFirst(t *testing.T) {
	s, root, _ := newTestStore(t)
	base := time.Now()

	var ids []string
	for i, off := range []time.Duration{0, time.Second, 2 * time.Second} {
		src := filepath.Join(root, "current_log")
		writeFile(t, src, string(rune('a'+i))+"\n")
		b, err := s.Adopt(src, base.Add(off))
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}

	// 잡음: 숨김 파일, ULID 가 아닌 이름, 하위 디렉토리
	writeFile(t, filepath.Join(s.Dir(), ".partial"), "x")
	writeFile(t, filepath.Join(s.Dir(), "notes.txt"), "x")
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "sub"), 0o755))

	batches, err := s.List()
	require.NoError(t, err)
	require.Len(t, batches, 3)
	for i, b := range batches {
		assert.Equal(t, ids[i], b.ID)
	}
	assert.True(t, batches[0].CreatedAt().Before(batches[2].CreatedAt()))
}

func TestAdopt_SameMillisecondStaysOrdered(t *testing.T) {
	s, root, _ := newTestStore(t)
	now := time.Now()

	var ids []string
	for i := 0; i < 20; i++ {
		src := filepath.Join(root, "current_log")
		writeFile(t, src, "x\n")
		b, err := s.Adopt(src, now)
		require.NoError(t, err)
		ids = append(ids, b.ID)
	}

	batches, err := s.List()
	require.NoError(t, err)
	require.Len(t, batches, 20)
	for i, b := range batches {
		assert.Equal(t, ids[i], b.ID)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	s, root, m := newTestStore(t)

	var batches []Batch
	for i := 0; i < 2; i++ {
		src := filepath.Join(root, "current_log")
		writeFile(t, src, "x\n")
		b, err := s.Adopt(src, time.Now())
		require.NoError(t, err)
		batches = append(batches, b)
	}

	require.NoError(t, s.Delete(batches[0].ID))
	require.NoError(t, s.Delete(batches[0].ID))

	left, err := s.List()
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, batches[1].ID, left[0].ID)

	count, _ := s.Stats()
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.BatchesPending))
}

func TestDelete_RejectsForeignNames(t *testing.T) {
	s, root, _ := newTestStore(t)
	victim := filepath.Join(root, "victim")
	writeFile(t, victim, "keep")

	err := s.Delete("../victim")
	assert.ErrorIs(t, err, ErrInvalidBatchID)

	_, err = os.Stat(victim)
	assert.NoError(t, err)
}

func TestNew_RestoresGauges(t *testing.T) {
	s, root, _ := newTestStore(t)
	for i := 0; i < 3; i++ {
		src := filepath.Join(root, "current_log")
		writeFile(t, src, "abc\n")
		_, err := s.Adopt(src, time.Now())
		require.NoError(t, err)
	}

	m := metrics.New()
	reopened, err := New(s.Dir(), m)
	require.NoError(t, err)

	count, bytes := reopened.Stats()
	assert.Equal(t, int64(3), count)
	assert.Equal(t, int64(12), bytes)
	assert.Equal(t, int64(12), atomic.LoadInt64(&m.PendingBytes))
}
