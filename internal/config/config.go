// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config
//
// analytics 파이프라인 실행에 필요한 모든 환경 변수 값을 보관하는 구조체.
// 모든 값은 프로세스 시작 시점에 Load() 에 의해 초기화되며,
// 이후에는 변경되지 않는 불변(read-only) 설정들이다.
type Config struct {

	// ---------------------------
	// 로컬 저장소
	// ---------------------------

	RootDir        string // analytics 루트 디렉토리 (current_log, logs_to_send 포함)
	MaxLogBytes    int64  // current_log 회전 기준 크기 (기본 1MiB)
	SyncEveryWrite bool   // 매 append 후 fsync 여부
	QueueSize      int    // Log() → writer 사이 큐 크기

	// ---------------------------
	// 전송(Sender)
	// ---------------------------

	SendInterval   time.Duration // 주기적 전송 간격 (0 이면 수동 전송만)
	UploadTimeout  time.Duration // 업로드 1회 시도당 timeout
	UploadAttempts int           // 한 run 안에서의 배치당 업로드 시도 횟수

	PostURL   string // 수집 서버 URL (http/https 또는 s3://bucket/prefix)
	AuthToken string // 있으면 Authorization: Bearer 헤더로 전송
	AWSRegion string // s3:// endpoint 사용 시 리전

	// ---------------------------
	// 앱 식별자 / 로컬 HTTP
	// ---------------------------

	AppName    string
	AppVersion string
	InstanceID string // 프로세스 식별자 (호스트명 기반, 실패 시 랜덤 hex)
	HTTPAddr   string // 로컬 제어용 HTTP bind 주소

	// ---------------------------
	// 로깅
	// ---------------------------

	ServiceName string
	LogLevel    string
	LogPretty   bool
	LogFile     string // 비어있지 않으면 lumberjack 으로 파일에도 기록
	LogSampleN  uint32
}

// Load
//
// 환경 변수 기반으로 Config 값을 초기화한다.
// 값이 없으면 기본값을 쓰고, 형식이 잘못된 값은 즉시 종료(fail-fast)한다.
// 수집 서버 URL 은 필수가 아니다. 없으면 Sender run 이 에러로 끝날 뿐
// 이벤트 기록은 계속 동작해야 하기 때문.
func Load() Config {
	return Config{
		RootDir:        envOr("ANALYTICS_DIR", defaultRootDir()),
		MaxLogBytes:    mustInt64("ANALYTICS_MAX_LOG_BYTES", 1<<20),
		SyncEveryWrite: mustBool("ANALYTICS_SYNC_EVERY_WRITE", false),
		QueueSize:      mustInt("ANALYTICS_QUEUE_SIZE", 1024),

		SendInterval:   mustDur("ANALYTICS_SEND_INTERVAL", 5*time.Minute),
		UploadTimeout:  mustDur("ANALYTICS_UPLOAD_TIMEOUT", 30*time.Second),
		UploadAttempts: mustInt("ANALYTICS_UPLOAD_ATTEMPTS", 1),

		PostURL:   os.Getenv("ANALYTICS_POST_URL"),
		AuthToken: os.Getenv("ANALYTICS_AUTH_TOKEN"),
		AWSRegion: envOr("AWS_REGION", "us-east-1"),

		AppName:    envOr("APP_NAME", "device-analytics"),
		AppVersion: envOr("APP_VERSION", "dev"),
		InstanceID: fallbackInstanceID(),
		HTTPAddr:   envOr("HTTP_ADDR", "127.0.0.1:8089"),

		ServiceName: envOr("SERVICE_NAME", "device-analytics"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogPretty:   mustBool("LOG_PRETTY", false),
		LogFile:     os.Getenv("LOG_FILE"),
		LogSampleN:  uint32(mustInt("LOG_SAMPLE_N", 0)),
	}
}

// envOr / mustInt / mustInt64 / mustBool / mustDur
//
// 공통 패턴.
// 값이 없으면 기본값, 형식이 잘못되면 즉시 로그 출력 후 종료(fail-fast).
func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func mustInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int env %s=%q: %v", key, v, err)
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Fatalf("invalid int64 env %s=%q: %v", key, v, err)
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid bool env %s=%q: %v", key, v, err)
	}
	return b
}

func mustDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration env %s=%q: %v", key, v, err)
	}
	return d
}

// defaultRootDir 는 사용자 데이터 디렉토리 아래 analytics 폴더를 쓴다.
// 홈 디렉토리를 못 찾으면 현재 작업 디렉토리 기준.
func defaultRootDir() string {
	if d, err := os.UserCacheDir(); err == nil && d != "" {
		return filepath.Join(d, "device-analytics")
	}
	return "analytics"
}

// fallbackInstanceID
//
// 이 프로세스를 식별하는 고유 값.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
