// internal/store/naming.go
package store

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// naming.go
// ------------------------------------------------------------
// pending batch 파일명 규칙.
//
//	<ULID>.jsonl
//
// 예:
//
//	01HF8Z3K9Q4W6T2M1N0P7R5S3V.jsonl
//
// ULID 는 앞 48bit 가 밀리초 timestamp 이고 문자열 정렬 = 시간 정렬이므로
// 디렉토리 목록을 sort.Strings 만 해도 oldest-first 순서가 된다.
// 같은 밀리초 안에서는 monotonic entropy 로 증가를 보장한다.
const batchExt = ".jsonl"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
	lastMs    uint64
)

// NewBatchID 는 t 시각 기준의 새 batch ID 를 만든다.
// 시계가 뒤로 가도 이전 ID 보다 작은 값은 만들지 않는다.
func NewBatchID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	ms := ulid.Timestamp(t)
	if ms < lastMs {
		ms = lastMs
	}
	lastMs = ms
	return ulid.MustNew(ms, entropy).String()
}

// ParseBatchID 는 ID 가 정상 ULID 인지 검사한다.
// 삭제 경로에서 디렉토리 밖을 가리키는 이름을 막는 용도.
func ParseBatchID(id string) (ulid.ULID, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("%w: %q", ErrInvalidBatchID, id)
	}
	return u, nil
}

// BatchTime 은 batch ID 에 새겨진 생성 시각을 돌려준다.
func BatchTime(id string) (time.Time, bool) {
	u, err := ParseBatchID(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}

func fileName(id string) string {
	return id + batchExt
}

func idFromFileName(name string) (string, bool) {
	if !strings.HasSuffix(name, batchExt) {
		return "", false
	}
	id := strings.TrimSuffix(name, batchExt)
	if _, err := ParseBatchID(id); err != nil {
		return "", false
	}
	return id, true
}
