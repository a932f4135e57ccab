// internal/sender/scheduler.go
package sender

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Scheduler 는 전송 run 을 주기적으로, 또는 Trigger 로 깨워서 실행한다.
//
//   - interval 마다 한 번 (0 이하면 주기 실행 없음)
//   - Trigger(): 대기 중인 요청이 있으면 합쳐진다 (채널 cap 1)
//   - Stop(): ctx 취소 → 진행 중 run 은 batch 경계에서 멈춤 → 루프 종료 대기
type Scheduler struct {
	interval time.Duration
	run      func(ctx context.Context) error
	log      zerolog.Logger

	trigger chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewScheduler(interval time.Duration, run func(ctx context.Context) error) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		interval: interval,
		run:      run,
		log:      log.With().Str("component", "scheduler").Logger(),
		trigger:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

// Trigger 는 막히지 않는다. 이미 요청이 쌓여 있으면 버린다.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
	})
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.interval > 0 {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-tick:
			s.runOnce("interval")
		case <-s.trigger:
			s.runOnce("trigger")
		}
	}
}

// runOnce 는 panic 을 잡아 로그만 남긴다. 전송 실패로 호스트가 죽으면 안 된다.
func (s *Scheduler) runOnce(reason string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("reason", reason).Msg("send run panicked")
		}
	}()

	err := s.run(s.ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRunInProgress), errors.Is(err, context.Canceled):
		s.log.Debug().Err(err).Str("reason", reason).Msg("send run skipped")
	default:
		s.log.Warn().Err(err).Str("reason", reason).Msg("send run failed")
	}
}
