// internal/analytics/client.go
package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"device-analytics/internal/config"
	"device-analytics/internal/endpoint"
	"device-analytics/internal/environment"
	"device-analytics/internal/metrics"
	"device-analytics/internal/model"
	"device-analytics/internal/sender"
	"device-analytics/internal/store"
	"device-analytics/internal/writer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrQueueFull 는 writer 큐가 가득 차서 이벤트를 버렸을 때.
	ErrQueueFull = errors.New("analytics queue full")
	ErrClosed    = errors.New("analytics client closed")
)

// Options 는 New 에 넘기는 의존성. 비어 있는 항목은 Config 로부터 만든다.
type Options struct {
	Config      config.Config
	Environment environment.Provider
	Endpoint    endpoint.Provider
	Uploaders   map[string]sender.Uploader
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

type request struct {
	ev    model.Event
	flush chan error // nil 이 아니면 flush 마커
}

// Client 는 analytics 파이프라인의 진입점이다.
//
// 흐름:
//   - Log(): 검사 후 큐에 넣기만 한다 (호출자를 막지 않음)
//   - loop: 큐에서 꺼내 writer 에 순서대로 append (단일 writer goroutine)
//   - Scheduler: 주기적으로 Send() (flush → rotate → sender run)
//
// Close 는 큐를 비우고, 스케줄러를 멈추고, writer 를 닫는다.
type Client struct {
	cfg       config.Config
	metrics   *metrics.Metrics
	writer    *writer.Writer
	sender    *sender.Sender
	scheduler *sender.Scheduler
	log       zerolog.Logger

	mu     sync.RWMutex // reqCh close 와 send 사이 경합 방지
	reqCh  chan request
	closed bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	closeErr error
}

// New 는 writer 를 열고 (flock) loop 와 스케줄러를 시작한다.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	lg := log.With().Str("component", "analytics").Logger()

	env := opts.Environment
	if env == nil {
		static, err := environment.Detect(environment.Options{
			RootDir:    cfg.RootDir,
			AppName:    cfg.AppName,
			AppVersion: cfg.AppVersion,
		})
		if err != nil {
			lg.Warn().Err(err).Msg("installation id not persisted, using a temporary one")
		}
		env = static
	}

	ep := opts.Endpoint
	if ep == nil {
		p, err := endpoint.Parse(cfg.PostURL, cfg.AuthToken)
		if err != nil {
			return nil, err
		}
		ep = p
	}

	uploaders := opts.Uploaders
	if uploaders == nil {
		var err error
		if uploaders, err = defaultUploaders(cfg); err != nil {
			return nil, err
		}
	}

	w, err := writer.Open(writer.Options{
		RootDir:        cfg.RootDir,
		Policy:         writer.SizePolicy{MaxBytes: cfg.MaxLogBytes},
		Environment:    env,
		Metrics:        m,
		SyncEveryWrite: cfg.SyncEveryWrite,
		Now:            opts.Now,
	})
	if err != nil {
		return nil, err
	}

	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 1024
	}

	c := &Client{
		cfg:     cfg,
		metrics: m,
		writer:  w,
		sender: sender.New(sender.Options{
			Store:     w.Store(),
			Endpoint:  ep,
			Uploaders: uploaders,
			Timeout:   cfg.UploadTimeout,
			Attempts:  cfg.UploadAttempts,
			Metrics:   m,
		}),
		log:   lg,
		reqCh: make(chan request, queue),
	}
	c.scheduler = sender.NewScheduler(cfg.SendInterval, func(ctx context.Context) error {
		_, err := c.Send(ctx)
		return err
	})

	c.wg.Add(1)
	go c.loop()
	c.scheduler.Start()

	return c, nil
}

// defaultUploaders: http/https 는 항상, s3 는 endpoint 가 s3:// 일 때만 만든다.
func defaultUploaders(cfg config.Config) (map[string]sender.Uploader, error) {
	h := sender.NewHTTPUploader(nil)
	ups := map[string]sender.Uploader{"http": h, "https": h}

	if strings.HasPrefix(strings.TrimSpace(cfg.PostURL), "s3://") {
		u, err := sender.NewS3Uploader(context.Background(), cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		ups["s3"] = u
	}
	return ups, nil
}

// ------------------------------------------------------------
// 기록
// ------------------------------------------------------------

// Log 는 이벤트를 검사하고 큐에 넣는다. 디스크 I/O 를 기다리지 않는다.
//
//   - 이름이 비었거나 카테고리가 잘못되면 즉시 에러
//   - 큐가 가득 차면 이벤트를 버리고 ErrQueueFull
//   - 실제 쓰기 실패는 로그와 지표로만 남는다
func (c *Client) Log(name string, category model.Category, attrs map[string]any) error {
	ev := model.Event{Name: name, Category: category, Attributes: model.AttributesOf(attrs)}
	if err := ev.Validate(); err != nil {
		atomic.AddInt64(&c.metrics.EventsRejectedTotal, 1)
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	select {
	case c.reqCh <- request{ev: ev}:
		atomic.AddInt64(&c.metrics.EventsLoggedTotal, 1)
		return nil
	default:
		atomic.AddInt64(&c.metrics.EventsDroppedQueueFullTotal, 1)
		return ErrQueueFull
	}
}

func (c *Client) LogUserAction(name string, attrs map[string]any) error {
	return c.Log(name, model.UserAction, attrs)
}

func (c *Client) LogViewChange(name string, attrs map[string]any) error {
	return c.Log(name, model.ViewChange, attrs)
}

func (c *Client) LogAppLifecycle(name string, attrs map[string]any) error {
	return c.Log(name, model.AppLifecycle, attrs)
}

func (c *Client) LogDebug(name string, attrs map[string]any) error {
	return c.Log(name, model.Debug, attrs)
}

func (c *Client) LogNetwork(name string, attrs map[string]any) error {
	return c.Log(name, model.Network, attrs)
}

func (c *Client) LogWarning(name string, attrs map[string]any) error {
	return c.Log(name, model.Warning, attrs)
}

func (c *Client) LogIssue(name string, attrs map[string]any) error {
	return c.Log(name, model.Issue, attrs)
}

func (c *Client) LogCrash(name string, attrs map[string]any) error {
	return c.Log(name, model.Crash, attrs)
}

// loop 는 큐의 요청을 들어온 순서대로 처리한다.
// 큐가 닫히면 남은 요청을 모두 처리한 뒤 종료한다.
func (c *Client) loop() {
	defer c.wg.Done()
	for req := range c.reqCh {
		c.handle(req)
	}
	c.log.Debug().Msg("writer loop exiting")
}

func (c *Client) handle(req request) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("event", req.ev.Name).Msg("writer loop panicked")
			if req.flush != nil {
				req.flush <- fmt.Errorf("analytics: flush panicked: %v", r)
			}
		}
	}()

	if req.flush != nil {
		req.flush <- c.writer.Flush()
		return
	}
	if err := c.writer.Write(req.ev); err != nil {
		c.log.Error().Err(err).
			Str("event", req.ev.Name).
			Str("category", req.ev.Category.String()).
			Msg("event write failed")
	}
}

// ------------------------------------------------------------
// flush / 전송
// ------------------------------------------------------------

// Flush 는 지금까지 Log 된 이벤트가 current_log 에 써지고 fsync 될 때까지 기다린다.
func (c *Client) Flush(ctx context.Context) error {
	done := make(chan error, 1)

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return ErrClosed
	}
	select {
	case c.reqCh <- request{flush: done}:
		c.mu.RUnlock()
	case <-ctx.Done():
		c.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send 는 current_log 를 flush + 회전시킨 뒤 pending batch 를 전부 보낸다.
// 다른 run 이 진행 중이면 sender.ErrRunInProgress.
func (c *Client) Send(ctx context.Context) (sender.Report, error) {
	if err := c.Flush(ctx); err != nil {
		return sender.Report{}, err
	}
	if _, _, err := c.writer.Rotate(); err != nil {
		// 이미 회전된 batch 들은 그래도 보낸다
		c.log.Warn().Err(err).Msg("rotate before send failed")
	}
	return c.sender.Run(ctx)
}

// TriggerSend 는 스케줄러에 전송을 요청하고 바로 돌아온다.
func (c *Client) TriggerSend() {
	c.scheduler.Trigger()
}

// Background 는 앱이 백그라운드로 들어갈 때 부른다.
// 라이프사이클 이벤트를 남기고 바로 전송한다.
func (c *Client) Background(ctx context.Context) (sender.Report, error) {
	if err := c.LogAppLifecycle("did_enter_background", nil); err != nil {
		c.log.Warn().Err(err).Msg("background event not recorded")
	}
	return c.Send(ctx)
}

// Pending 은 아직 전송되지 않은 batch 목록 (오래된 순).
func (c *Client) Pending() ([]store.Batch, error) {
	return c.writer.Store().List()
}

// CurrentLogPath 는 현재 기록 중인 파일 경로.
func (c *Client) CurrentLogPath() string { return c.writer.Path() }

func (c *Client) Metrics() *metrics.Metrics { return c.metrics }

// Close
//  1. 스케줄러 정지 (진행 중 run 은 batch 경계에서 멈춤)
//  2. 큐를 닫고 loop 가 남은 이벤트를 다 쓸 때까지 대기
//  3. writer close (fsync + flock 해제)
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		c.scheduler.Stop()

		c.mu.Lock()
		c.closed = true
		close(c.reqCh)
		c.mu.Unlock()

		c.wg.Wait()
		c.closeErr = c.writer.Close()
	})
	return c.closeErr
}
