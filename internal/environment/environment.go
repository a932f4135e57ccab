// internal/environment/environment.go
package environment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider 는 모든 이벤트에 합쳐질 플랫폼/기기 메타데이터를 준다.
// 이벤트마다 한 번 호출되므로 가볍고 I/O 가 없어야 한다.
type Provider interface {
	Attributes() map[string]string
}

// Static 은 시작 시점에 한 번 만든 고정 맵을 그대로 돌려주는 Provider.
type Static map[string]string

func (s Static) Attributes() map[string]string { return s }

// AnalyticsVersion 은 레코드 형식 버전. 수집 서버 파서가 분기에 쓴다.
const AnalyticsVersion = "1"

const installationIDFile = "installation_id"

// Options 는 Detect 에 넘기는 앱 식별 정보.
type Options struct {
	RootDir    string // installation_id 파일을 둘 analytics 루트
	AppName    string
	AppVersion string
}

// Detect
// ------------------------------------------------------------
// 현재 프로세스/호스트 기준으로 공통 속성을 모은다.
// 시간대·로케일처럼 도중에 바뀔 수 있는 값도 시작 시점 값으로 고정한다.
//
// installation_id 는 루트 디렉토리에 한 번 만들어 두고 계속 재사용한다.
// 파일을 못 읽거나 못 쓰면 이번 프로세스 동안만 쓰는 임시 ID 를 만든다.
func Detect(opts Options) (Static, error) {
	id, err := InstallationID(opts.RootDir)
	if err != nil {
		id = uuid.NewString()
	}

	host, _ := os.Hostname()
	locale := detectLocale()

	attrs := Static{
		"os":                runtime.GOOS,
		"arch":              runtime.GOARCH,
		"platform":          "go",
		"go_version":        runtime.Version(),
		"num_cpu":           strconv.Itoa(runtime.NumCPU()),
		"hostname":          host,
		"user_timezone":     time.Local.String(),
		"user_locale":       locale,
		"user_language":     language(locale),
		"app_name":          opts.AppName,
		"app_version":       opts.AppVersion,
		"analytics_version": AnalyticsVersion,
		"installation_id":   id,
	}
	return attrs, err
}

// InstallationID 는 root/installation_id 를 읽고, 없으면 새 UUID 를 만들어 저장한다.
func InstallationID(root string) (string, error) {
	if root == "" {
		return "", errors.New("environment: root dir is empty")
	}
	path := filepath.Join(root, installationIDFile)

	b, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("environment: read %s: %w", path, err)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("environment: create %s: %w", root, err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("environment: write %s: %w", path, err)
	}
	return id, nil
}

// detectLocale 은 POSIX 로케일 환경변수 우선순위(LC_ALL > LC_MESSAGES > LANG)를 따른다.
// "ko_KR.UTF-8" → "ko_KR"
func detectLocale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i > 0 {
			v = v[:i]
		}
		return v
	}
	return "unknown_locale"
}

func language(locale string) string {
	if i := strings.IndexAny(locale, "_-"); i > 0 {
		return locale[:i]
	}
	if locale == "unknown_locale" {
		return "unknown_language"
	}
	return locale
}
