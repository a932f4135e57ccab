// internal/sender/sender.go
package sender

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"device-analytics/internal/endpoint"
	"device-analytics/internal/metrics"
	"device-analytics/internal/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRunInProgress 는 이전 run 이 아직 끝나지 않았을 때. 호출자는 무시해도 된다.
	ErrRunInProgress = errors.New("send run already in progress")

	// ErrNoEndpoint 는 endpoint.ErrNoEndpoint 와 같다.
	ErrNoEndpoint = endpoint.ErrNoEndpoint
)

// BatchStore 는 Sender 가 쓰는 pending store 의 부분 집합.
type BatchStore interface {
	List() ([]store.Batch, error)
	Read(b store.Batch) ([]byte, error)
	Delete(id string) error
}

// Report 는 run 한 번의 결과.
//   - Attempted: 읽기를 시작한 batch 수
//   - Sent: 업로드 성공한 batch 수
//   - Discarded: 형식 오류로 삭제한 batch 수
//   - Remaining: run 이 끝난 시점에 아직 보내지 못한 batch 수
type Report struct {
	Attempted int
	Sent      int
	Discarded int
	Remaining int
}

type Options struct {
	Store     BatchStore
	Endpoint  endpoint.Provider
	Uploaders map[string]Uploader // URL scheme → uploader. nil 이면 http/https 기본
	Encoder   *Encoder
	Timeout   time.Duration // attempt 1회 상한
	Attempts  int           // run 안에서 batch 당 시도 횟수
	Metrics   *metrics.Metrics
}

// Sender
// ------------------------------------------------------------
// pending batch 를 오래된 순서대로 하나씩
//
//	읽기 → 검사/압축 → 업로드 → (성공 시) 삭제
//
// 한다. 업로드 실패 시 그 batch 는 남겨두고 run 을 멈춘다.
// 삭제는 업로드 성공 "이후"에만 일어나므로 at-least-once.
type Sender struct {
	store     BatchStore
	endpoint  endpoint.Provider
	uploaders map[string]Uploader
	encoder   *Encoder
	timeout   time.Duration
	attempts  int
	metrics   *metrics.Metrics
	log       zerolog.Logger

	running int32
}

func New(opts Options) *Sender {
	s := &Sender{
		store:     opts.Store,
		endpoint:  opts.Endpoint,
		uploaders: opts.Uploaders,
		encoder:   opts.Encoder,
		timeout:   opts.Timeout,
		attempts:  opts.Attempts,
		metrics:   opts.Metrics,
		log:       log.With().Str("component", "sender").Logger(),
	}
	if s.uploaders == nil {
		h := NewHTTPUploader(nil)
		s.uploaders = map[string]Uploader{"http": h, "https": h}
	}
	if s.encoder == nil {
		s.encoder = NewEncoder()
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.attempts <= 0 {
		s.attempts = 1
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s
}

// Running 은 지금 run 이 진행 중인지.
func (s *Sender) Running() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// Run 은 pending batch 를 전부(또는 첫 실패까지) 보낸다.
//
// ctx 취소는 batch 와 batch 사이에서만 확인한다.
// 이미 나간 업로드는 끝까지(또는 timeout 까지) 기다린다.
func (s *Sender) Run(ctx context.Context) (Report, error) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		atomic.AddInt64(&s.metrics.SenderRunsSkippedTotal, 1)
		return Report{}, ErrRunInProgress
	}
	defer atomic.StoreInt32(&s.running, 0)

	atomic.AddInt64(&s.metrics.SenderRunsTotal, 1)

	rep, err := s.run(ctx)
	if err != nil {
		atomic.AddInt64(&s.metrics.SenderRunsFailedTotal, 1)
	}
	return rep, err
}

func (s *Sender) run(ctx context.Context) (Report, error) {
	var rep Report

	// --- 1) endpoint 는 run 당 한 번 ---
	ep, err := s.endpoint.Endpoint(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoEndpoint) {
			err = fmt.Errorf("%w: %v", ErrNoEndpoint, err)
		}
		s.log.Warn().Err(err).Msg("send skipped")
		return rep, err
	}
	if ep.URL == nil {
		return rep, ErrNoEndpoint
	}
	uploader, ok := s.uploaders[ep.URL.Scheme]
	if !ok {
		return rep, fmt.Errorf("%w: no uploader for scheme %q", ErrNoEndpoint, ep.URL.Scheme)
	}

	// --- 2) 오래된 순서로 스냅샷 ---
	batches, err := s.store.List()
	if err != nil {
		return rep, fmt.Errorf("sender: list pending: %w", err)
	}
	rep.Remaining = len(batches)
	if len(batches) == 0 {
		return rep, nil
	}

	for _, b := range batches {
		// 취소는 batch 경계에서만
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Attempted++

		payload, err := s.prepare(b)
		if err != nil {
			s.discard(b, err)
			rep.Discarded++
			rep.Remaining--
			continue
		}

		if err := s.upload(ctx, uploader, ep, payload); err != nil {
			s.log.Error().Err(err).
				Str("batch", b.ID).
				Int("status", statusOf(err)).
				Msg("upload failed, stopping run")
			return rep, fmt.Errorf("sender: upload %s: %w", b.ID, err)
		}

		atomic.AddInt64(&s.metrics.BatchesSentTotal, 1)
		atomic.AddInt64(&s.metrics.BytesUploadedTotal, int64(len(payload.Body)))
		rep.Sent++
		rep.Remaining--

		if err := s.store.Delete(b.ID); err != nil {
			// 다음 run 에 다시 보내진다 (중복 가능, 유실 없음)
			s.log.Warn().Err(err).Str("batch", b.ID).Msg("delete after upload failed")
			continue
		}
		s.log.Debug().Str("batch", b.ID).Int("events", payload.Events).Int("bytes", len(payload.Body)).Msg("batch sent")
	}

	s.log.Info().Int("sent", rep.Sent).Int("discarded", rep.Discarded).Msg("send run finished")
	return rep, nil
}

func (s *Sender) prepare(b store.Batch) (Payload, error) {
	raw, err := s.store.Read(b)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: read: %v", ErrCorruptBatch, err)
	}
	body, events, err := s.encoder.Encode(raw)
	if err != nil {
		if errors.Is(err, ErrCorruptBatch) {
			return Payload{}, err
		}
		return Payload{}, fmt.Errorf("%w: encode: %v", ErrCorruptBatch, err)
	}
	return Payload{
		BatchID:   b.ID,
		CreatedAt: b.CreatedAt(),
		Body:      body,
		Events:    events,
	}, nil
}

// discard 는 형식 오류 batch 를 지운다. 남겨두면 뒤의 batch 가 영영 막힌다.
func (s *Sender) discard(b store.Batch, cause error) {
	atomic.AddInt64(&s.metrics.BatchesDiscardedTotal, 1)
	if err := s.store.Delete(b.ID); err != nil {
		s.log.Error().Err(err).Str("batch", b.ID).Msg("delete corrupt batch failed")
		return
	}
	s.log.Error().Err(cause).Str("batch", b.ID).Int64("bytes", b.Size).Msg("corrupt batch discarded")
}

// upload 는 attempts 만큼 시도한다.
//   - 각 시도는 timeout 으로 제한 (호출자 ctx 취소와는 분리)
//   - 시도 사이 backoff: 200ms 부터 2배씩, 최대 2초
//   - ctx 가 취소되면 남은 시도는 하지 않는다
func (s *Sender) upload(ctx context.Context, u Uploader, ep endpoint.Endpoint, p Payload) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err := s.attemptOnce(ctx, u, ep, p); err == nil {
			return nil
		} else {
			lastErr = err
			atomic.AddInt64(&s.metrics.UploadErrorsTotal, 1)
			s.log.Warn().Err(err).Str("batch", p.BatchID).Int("attempt", attempt).Msg("upload attempt failed")
		}

		if attempt == s.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(backoff):
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}
	return lastErr
}

func (s *Sender) attemptOnce(ctx context.Context, u Uploader, ep endpoint.Endpoint, p Payload) error {
	ctx2, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	return u.Upload(ctx2, ep, p)
}

func statusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
