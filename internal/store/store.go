// internal/store/store.go
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"device-analytics/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidBatchID = errors.New("invalid batch id")
	ErrNothingToAdopt = errors.New("nothing to adopt")
)

// Batch 는 회전이 끝난 불변 로그 파일 하나.
type Batch struct {
	ID   string
	Path string
	Size int64
}

// CreatedAt 은 ID 에 새겨진 회전 시각.
func (b Batch) CreatedAt() time.Time {
	t, _ := BatchTime(b.ID)
	return t
}

// Store 는 업로드 대기 중인 batch 파일들의 디렉토리(logs_to_send)를 관리한다.
//   - 생산자: writer 의 회전(Adopt, rename 으로 소유권 이전)
//   - 소비자: sender (List → Read → 업로드 성공 후 Delete)
//
// 디렉토리 안의 파일은 한번 들어오면 내용이 바뀌지 않는다.
// 읽히거나, 업로드 성공 확인 후 삭제되거나 둘 중 하나.
type Store struct {
	dir     string
	metrics *metrics.Metrics
	log     zerolog.Logger

	// Adopt 의 충돌 검사 + rename 을 직렬화
	mu sync.Mutex

	// 현재 디렉토리에 있는 batch 파일 수 / 바이트
	count int64
	bytes int64
}

// New 는 디렉토리를 만들고 기존 파일을 스캔해서
// BatchesPending / PendingBytes 를 복원한다.
// ULID 이름이 아닌 파일은 건드리지 않고 목록에서 제외만 한다.
func New(dir string, m *metrics.Metrics) (*Store, error) {
	if m == nil {
		m = metrics.New()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
	}

	s := &Store{
		dir:     dir,
		metrics: m,
		log:     log.With().Str("component", "store").Logger(),
	}

	batches, err := s.List()
	if err != nil {
		return nil, err
	}

	var total int64
	for _, b := range batches {
		total += b.Size
	}
	atomic.StoreInt64(&s.count, int64(len(batches)))
	atomic.StoreInt64(&s.bytes, total)
	atomic.AddInt64(&m.BatchesPending, int64(len(batches)))
	atomic.AddInt64(&m.PendingBytes, total)

	if len(batches) > 0 {
		s.log.Info().Int("batches", len(batches)).Int64("bytes", total).Msg("pending batches restored")
	}
	return s, nil
}

// Dir 는 pending 디렉토리 경로.
func (s *Store) Dir() string { return s.dir }

// Adopt 는 src 파일을 새 batch ID 로 pending 디렉토리에 rename 한다.
// copy+delete 가 아니라 rename 이므로 소유자가 0개 또는 2개인 순간이 없다.
// src 와 pending 디렉토리는 같은 파일시스템(루트 디렉토리 아래)에 있어야 한다.
func (s *Store) Adopt(src string, now time.Time) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return Batch{}, ErrNothingToAdopt
	}
	if err != nil {
		return Batch{}, fmt.Errorf("store: stat %s: %w", src, err)
	}
	if info.Size() == 0 {
		return Batch{}, ErrNothingToAdopt
	}

	var id, dst string
	for attempt := 0; ; attempt++ {
		id = NewBatchID(now)
		dst = filepath.Join(s.dir, fileName(id))
		if _, err := os.Lstat(dst); errors.Is(err, fs.ErrNotExist) {
			break
		}
		if attempt >= 8 {
			return Batch{}, fmt.Errorf("store: no free batch name after %d attempts", attempt+1)
		}
	}

	if err := os.Rename(src, dst); err != nil {
		return Batch{}, fmt.Errorf("store: adopt %s: %w", src, err)
	}

	b := Batch{ID: id, Path: dst, Size: info.Size()}

	atomic.AddInt64(&s.count, 1)
	atomic.AddInt64(&s.bytes, b.Size)
	atomic.AddInt64(&s.metrics.BatchesPending, 1)
	atomic.AddInt64(&s.metrics.PendingBytes, b.Size)

	return b, nil
}

// List 는 현재 보낼 수 있는 batch 목록을 오래된 순으로 돌려준다.
//
// 주의:
//   - os.ReadDir 는 이름순으로 정렬해주지만, 순서 보장은 ULID 정렬에 기대므로
//     명시적으로 한번 더 정렬한다.
//   - 매 호출마다 디렉토리를 새로 읽는다. 중간에 실패해도 다시 부르면 된다.
func (s *Store) List() ([]Batch, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", s.dir, err)
	}

	out := make([]Batch, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == "" || name[0] == '.' {
			continue
		}
		id, ok := idFromFileName(name)
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// 목록을 읽는 사이 지워진 경우
			continue
		}
		out = append(out, Batch{ID: id, Path: filepath.Join(s.dir, name), Size: info.Size()})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Read 는 batch 내용을 전부 읽는다.
func (s *Store) Read(b Batch) ([]byte, error) {
	if _, err := ParseBatchID(b.ID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, fileName(b.ID)))
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", b.ID, err)
	}
	return data, nil
}

// Delete 는 batch 를 지운다. 이미 없는 batch 를 지워도 에러가 아니다.
// (업로드 성공 후 삭제 전에 죽었다가 다시 보낸 경우를 위해)
func (s *Store) Delete(id string) error {
	if _, err := ParseBatchID(id); err != nil {
		return err
	}
	path := filepath.Join(s.dir, fileName(id))

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: stat %s: %w", id, err)
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("store: delete %s: %w", id, err)
	}

	atomic.AddInt64(&s.count, -1)
	atomic.AddInt64(&s.bytes, -info.Size())
	atomic.AddInt64(&s.metrics.BatchesPending, -1)
	atomic.AddInt64(&s.metrics.PendingBytes, -info.Size())
	return nil
}

// Stats 는 현재 batch 수와 총 바이트.
func (s *Store) Stats() (count, bytes int64) {
	return atomic.LoadInt64(&s.count), atomic.LoadInt64(&s.bytes)
}
