// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"device-analytics/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Init
//
// 애플리케이션 시작 시 한 번만 호출되는 로거 초기화 함수입니다.
// Config 설정(환경변수)에 따라 '개발자용 화면' 또는 '운영용 JSON 로그'로
// 형태를 바꾸어 설정합니다.
//
// [주요 기능]
//
//  1. 로그 포맷 자동 전환:
//     - LOG_PRETTY=true : 사람이 읽기 쉬운 콘솔 출력
//     - LOG_PRETTY=false: JSON 한 줄 출력
//
//  2. 진단 로그 파일 (LOG_FILE):
//     - 단말기에서는 stdout 을 아무도 보지 않는 경우가 많으므로
//       lumberjack 으로 크기 기반 회전되는 파일에도 같이 기록합니다.
//     - analytics 이벤트 파일(current_log)과는 완전히 별개입니다.
//
//  3. 공통 필드 자동 추가: "service", "instance"
//
//  4. 로그 샘플링: Debug/Info 는 N 개 중 1개, Warn/Error 는 전부 기록.
//
// 사용 예:
//
//	logger.Init(cfg)
//	log.Info().Msg("analytics started")
func Init(cfg config.Config) io.Closer {

	// -------------------------------------------------------------------
	// 1) 로그 레벨 결정 (최소 출력 기준)
	// -------------------------------------------------------------------
	// 설정된 레벨보다 낮은 중요도의 로그는 아예 출력하지 않습니다.
	// 잘못된 값이나 빈 값이면 info 로 둡니다.
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && l != zerolog.NoLevel {
		level = l
	}

	zerolog.SetGlobalLevel(level)

	// -------------------------------------------------------------------
	// 2) 출력 방식 결정 (사람 vs 기계)
	// -------------------------------------------------------------------
	var w io.Writer

	if cfg.LogPretty {
		// [개발 / 단말 디버깅]
		// 터미널에서 눈으로 볼 때 편하도록 색상과 정렬을 적용합니다.
		// 예: 10:00:05 INF batch sent batch=01HV... service=analytics
		w = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05", // 날짜 없이 시간만 보여도 충분함
		}
	} else {
		// [운영]
		// 수집기가 그대로 파싱할 수 있는 JSON 한 줄 포맷.
		w = os.Stdout
	}

	// LOG_FILE 이 있으면 화면과 파일 양쪽에 같은 로그를 남깁니다.
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    5, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		w = zerolog.MultiLevelWriter(w, lj)
		closer = lj
	}

	// -------------------------------------------------------------------
	// 3) 기본 Logger 생성 (공통 태그 부착)
	// -------------------------------------------------------------------
	// 모든 로그에 서비스명과 인스턴스ID를 꼬리표처럼 항상 붙입니다.
	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().                     // 언제 발생했는지 시간 기록
		Str("service", cfg.ServiceName). // 어떤 서비스인지 (예: analytics)
		Str("instance", cfg.InstanceID). // 어느 단말(프로세스)인지
		Logger()

	// -------------------------------------------------------------------
	// 4) 샘플링 설정 (로그 홍수 방지)
	// -------------------------------------------------------------------
	// 이벤트가 몰릴 때 Info/Debug 로그가 단말 저장공간을 잡아먹지 않도록
	// 중요도가 낮은 로그는 N개 중 1개만 남기고 나머지는 버립니다.
	logger := base

	if cfg.LogSampleN > 1 {
		logger = base.Sample(&zerolog.LevelSampler{
			// Debug/Info: N=100 이면 1%만 기록
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},

			// Warn/Error: 샘플링하지 않음 (nil).
			// 업로드 실패나 batch 폐기는 하나도 빠짐없이 남아야 원인을 찾을 수 있습니다.
		})
	}

	// -------------------------------------------------------------------
	// 5) 전역 Logger 교체
	// -------------------------------------------------------------------
	zlog.Logger = logger

	// 표준 log 패키지(log.Println 등)도 같은 설정을 따르도록 연결합니다.
	stdlog.SetFlags(0)            // zerolog 가 시간을 따로 찍으므로 기본 시간 포맷 제거
	stdlog.SetOutput(zlog.Logger) // 표준 로그의 출력 방향을 zerolog 로 돌림

	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
