package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"device-analytics/internal/analytics"
	"device-analytics/internal/config"
	"device-analytics/internal/logger"
	"device-analytics/internal/metrics"
	"device-analytics/internal/server"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd(loadConfig func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the analytics pipeline with a local HTTP control endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(loadConfig())
		},
	}
}

func serve(cfg config.Config) error {

	// ====================================================================
	// Logger & Metrics 초기화
	// ====================================================================
	closer := logger.Init(cfg)
	defer closer.Close()

	m := metrics.New()

	// ====================================================================
	// Client 생성 (writer + sender + scheduler)
	// ====================================================================
	//
	// 루트 디렉토리 flock 을 잡으므로 같은 루트로 두 번 띄우면 여기서 실패한다.
	// 이전 프로세스가 남긴 current_log / logs_to_send 는 그대로 이어서 쓴다.
	// ====================================================================
	client, err := analytics.New(analytics.Options{Config: cfg, Metrics: m})
	if err != nil {
		log.Error().Err(err).Str("dir", cfg.RootDir).Msg("analytics init failed")
		return err
	}

	// ====================================================================
	// HTTP 서버 (loopback 전용 제어 surface)
	// ====================================================================
	h := server.NewHandler(m, client)

	// WriteTimeout: /send 는 batch 수만큼 업로드를 기다리므로 넉넉히
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       8 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	// ====================================================================
	// Graceful Shutdown
	// ====================================================================
	//
	// SIGTERM / SIGINT 수신 시:
	//   1) HTTP 서버를 먼저 멈추고 (새 이벤트 차단)
	//   2) client.Close: 스케줄러 정지 → 큐 비우기 → writer fsync/close
	//
	// current_log 는 회전하지 않고 그대로 둔다. 다음 실행이 이어서 쓴다.
	// ====================================================================
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
		cancel()
	}()

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("dir", cfg.RootDir).
		Dur("send_interval", cfg.SendInterval).
		Msg("analytics server listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("http server terminated")
		_ = client.Close()
		return err
	}

	if err := client.Close(); err != nil {
		log.Error().Err(err).Msg("analytics close")
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}
