// internal/writer/writer.go
package writer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"device-analytics/internal/environment"
	"device-analytics/internal/metrics"
	"device-analytics/internal/model"
	"device-analytics/internal/store"

	json "github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	CurrentLogName = "current_log"
	PendingDirName = "logs_to_send"
	lockFileName   = ".lock"
)

var (
	ErrLocked = errors.New("analytics root is locked by another process")
	ErrClosed = errors.New("writer is closed")
	ErrWrite  = errors.New("event write failed")
)

// Options 는 Open 에 넘기는 설정.
type Options struct {
	RootDir        string
	Store          *store.Store // nil 이면 RootDir/logs_to_send 로 새로 만든다
	Policy         Policy       // nil 이면 SizePolicy{DefaultMaxBytes}
	Environment    environment.Provider
	Metrics        *metrics.Metrics
	SyncEveryWrite bool
	Now            func() time.Time
}

// Writer
// ------------------------------------------------------------
// 직렬화된 이벤트를 단 하나의 current_log 파일에 append 한다.
//
//   - 한 줄 = 한 이벤트(JSONL). 줄 전체를 한 번의 write 로 쓴다.
//   - 모든 append / 회전은 mu 아래에서 일어나므로 여러 goroutine 이
//     동시에 불러도 줄이 섞이지 않는다.
//   - 루트 디렉토리의 .lock 에 flock 을 잡아 다른 프로세스가
//     같은 current_log 를 열지 못하게 한다.
//   - append 후 Policy 가 true 면 같은 락 안에서 바로 회전한다.
type Writer struct {
	root    string
	path    string
	store   *store.Store
	policy  Policy
	env     environment.Provider
	metrics *metrics.Metrics
	syncAll bool
	now     func() time.Time
	log     zerolog.Logger

	lock *flock.Flock

	mu     sync.Mutex
	f      *os.File // nil 이면 다음 write 때 lazy open
	size   int64
	closed bool
}

// Open 은 루트 디렉토리를 준비하고 writer 소유권(flock)을 잡는다.
// 이전 프로세스가 쓰다 죽어서 current_log 끝에 잘린 줄이 남아 있으면
// 마지막 '\n' 뒤를 잘라내 앞 레코드들을 보호한다.
func Open(opts Options) (*Writer, error) {
	if opts.RootDir == "" {
		return nil, errors.New("writer: root dir is empty")
	}
	if err := os.MkdirAll(opts.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("writer: create root %s: %w", opts.RootDir, err)
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	lock := flock.New(filepath.Join(opts.RootDir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("writer: lock %s: %w", opts.RootDir, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	st := opts.Store
	if st == nil {
		st, err = store.New(filepath.Join(opts.RootDir, PendingDirName), m)
		if err != nil {
			_ = lock.Unlock()
			return nil, err
		}
	}

	w := &Writer{
		root:    opts.RootDir,
		path:    filepath.Join(opts.RootDir, CurrentLogName),
		store:   st,
		policy:  opts.Policy,
		env:     opts.Environment,
		metrics: m,
		syncAll: opts.SyncEveryWrite,
		now:     opts.Now,
		log:     log.With().Str("component", "writer").Logger(),
		lock:    lock,
	}
	if w.policy == nil {
		w.policy = SizePolicy{MaxBytes: DefaultMaxBytes}
	}
	if w.now == nil {
		w.now = time.Now
	}

	size, err := w.repairTail()
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	w.size = size

	return w, nil
}

// Store 는 writer 가 회전시킨 batch 가 들어가는 pending store.
func (w *Writer) Store() *store.Store { return w.store }

// Path 는 current_log 경로.
func (w *Writer) Path() string { return w.path }

// Size 는 current_log 의 현재 바이트 수.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Write 는 이벤트 하나를 직렬화해서 current_log 에 append 한다.
//
// 저장 실패(디스크 full, 권한 등) 시:
//   - 이번 이벤트는 버리고 ErrWrite 로 감싼 에러를 돌려준다.
//   - 일부만 써진 바이트는 잘라내고 파일 핸들을 닫는다.
//     다음 Write 가 다시 열기 때문에 writer 는 계속 쓸 수 있다.
func (w *Writer) Write(ev model.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	line, err := w.encode(ev)
	if err != nil {
		atomic.AddInt64(&w.metrics.WriteErrorsTotal, 1)
		return fmt.Errorf("%w: encode %q: %v", ErrWrite, ev.Name, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	if err := w.appendLocked(line); err != nil {
		atomic.AddInt64(&w.metrics.WriteErrorsTotal, 1)
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	atomic.AddInt64(&w.metrics.EventsWrittenTotal, 1)
	atomic.AddInt64(&w.metrics.BytesWrittenTotal, int64(len(line)))

	if w.policy.ShouldRotate(w.size) {
		// 이벤트는 이미 기록됨. 회전 실패는 다음 write 에서 다시 시도된다.
		if _, _, err := w.rotateLocked(); err != nil {
			w.log.Warn().Err(err).Int64("size", w.size).Msg("size rotation failed")
		}
	}
	return nil
}

func (w *Writer) encode(ev model.Event) ([]byte, error) {
	var base map[string]string
	if w.env != nil {
		base = w.env.Attributes()
	}
	rec := model.Record{
		Name:       ev.Name,
		Type:       ev.Category.String(),
		TypeID:     uint8(ev.Category),
		Ts:         w.now().UnixMilli(),
		Attributes: model.Merge(base, ev.Attributes),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func (w *Writer) appendLocked(line []byte) error {
	if w.f == nil {
		if err := w.openLocked(); err != nil {
			return err
		}
	}

	n, err := w.f.Write(line)
	if err == nil && n < len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		// 잘린 줄이 남지 않도록 마지막 정상 크기로 되돌린다.
		if n > 0 {
			if terr := w.f.Truncate(w.size); terr != nil {
				w.log.Error().Err(terr).Msg("truncate after failed write")
			}
		}
		_ = w.f.Close()
		w.f = nil
		return err
	}
	w.size += int64(n)

	if w.syncAll {
		if err := w.f.Sync(); err != nil {
			w.log.Warn().Err(err).Msg("fsync after write failed")
		}
	}
	return nil
}

// openLocked 는 current_log 를 append 모드로 연다 (없으면 생성).
func (w *Writer) openLocked() error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return err
	}
	size, err := w.repairTail()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.size = size
	return nil
}

// repairTail 은 current_log 가 '\n' 으로 끝나지 않으면
// 마지막 '\n' 다음부터 끝까지 잘라낸다. 정리 후 크기를 돌려준다.
func (w *Writer) repairTail() (int64, error) {
	f, err := os.OpenFile(w.path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("writer: open %s: %w", w.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("writer: stat %s: %w", w.path, err)
	}
	size := info.Size()
	if size == 0 {
		return 0, nil
	}

	keep, err := lastNewlineEnd(f, size)
	if err != nil {
		return 0, fmt.Errorf("writer: scan %s: %w", w.path, err)
	}
	if keep == size {
		return size, nil
	}

	if err := f.Truncate(keep); err != nil {
		return 0, fmt.Errorf("writer: truncate %s: %w", w.path, err)
	}
	w.log.Warn().Int64("dropped_bytes", size-keep).Msg("truncated partial trailing record")
	return keep, nil
}

// lastNewlineEnd 는 파일에서 마지막 '\n' 바로 다음 오프셋을 찾는다 (없으면 0).
func lastNewlineEnd(r io.ReaderAt, size int64) (int64, error) {
	const chunk = 4096
	buf := make([]byte, chunk)

	end := size
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := r.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

// Flush 는 current_log 의 버퍼를 디스크까지 내린다 (fsync).
// 백그라운드 진입 직전 같은 때 수동으로 부른다.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("writer: sync: %w", err)
	}
	return nil
}

// Rotate 는 크기와 상관없이 current_log 를 pending store 로 넘긴다.
// 쓸 내용이 없으면 아무것도 하지 않는다 (빈 batch 는 만들지 않음).
func (w *Writer) Rotate() (store.Batch, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return store.Batch{}, false, ErrClosed
	}
	return w.rotateLocked()
}

// rotateLocked
//  1. (호출자가 mu 를 잡고 있음 = writer 정지)
//  2. fsync + close 후 rename 으로 pending store 에 넘김
//  3. 핸들과 크기 초기화 → 다음 write 가 새 current_log 를 만든다
func (w *Writer) rotateLocked() (store.Batch, bool, error) {
	if w.f != nil {
		if err := w.f.Sync(); err != nil {
			w.log.Warn().Err(err).Msg("fsync before rotation failed")
		}
		_ = w.f.Close()
		w.f = nil
	}

	b, err := w.store.Adopt(w.path, w.now())
	if errors.Is(err, store.ErrNothingToAdopt) {
		w.size = 0
		return store.Batch{}, false, nil
	}
	if err != nil {
		return store.Batch{}, false, err
	}

	w.size = 0
	atomic.AddInt64(&w.metrics.RotationsTotal, 1)
	w.log.Info().Str("batch", b.ID).Int64("bytes", b.Size).Msg("current log rotated")
	return b, true, nil
}

// Close 는 파일을 fsync 후 닫고 flock 을 놓는다. 여러 번 불러도 안전.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	if w.f != nil {
		if err := w.f.Sync(); err != nil {
			firstErr = err
		}
		if err := w.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.f = nil
	}
	if err := w.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
