// internal/sender/encoder.go
package sender

import (
	"bytes"
	"errors"
	"fmt"

	"device-analytics/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// ErrCorruptBatch 는 batch 파일을 읽을 수 없거나 형식이 깨졌을 때.
// 재시도해도 달라지지 않으므로 sender 는 이 batch 를 삭제하고 다음으로 넘어간다.
var ErrCorruptBatch = errors.New("corrupt batch")

// Encoder 는 batch 파일(JSONL)을 검사하고 gzip 으로 압축해
// 업로드 payload 를 만든다.
//
// 특징:
//   - 빈 줄이 아닌 모든 줄은 JSON object 여야 한다 (하나라도 아니면 ErrCorruptBatch)
//   - gzip.Writer + bytes.Buffer 재사용(pool 기반)
//   - 결과는 새로운 []byte 로 복사해 호출자에게 소유권을 넘김
type Encoder struct{}

func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode 는 batch 원본을 검사 + 압축한다.
//
// 반환값:
// - data: gzip(JSONL) (호출자 소유)
// - events: 유효한 이벤트 줄 수
// - err: 형식 오류면 ErrCorruptBatch 로 감싸서 반환
func (e *Encoder) Encode(raw []byte) ([]byte, int, error) {
	events, err := validate(raw)
	if err != nil {
		return nil, 0, err
	}

	// ------------------------------------------------------------
	// 1) 결과 버퍼 + gzip.Writer 를 pool 에서 가져온다
	// ------------------------------------------------------------
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)

	// ------------------------------------------------------------
	// 2) 원본 JSONL 을 그대로 압축 (줄 구조 유지)
	// ------------------------------------------------------------
	if _, err := gz.Write(raw); err != nil {
		_ = gz.Close()
		pool.GzipPool.Put(gz)
		pool.PutBuffer(buf)
		return nil, 0, err
	}
	if err := gz.Close(); err != nil {
		pool.GzipPool.Put(gz)
		pool.PutBuffer(buf)
		return nil, 0, err
	}
	pool.GzipPool.Put(gz)

	// ------------------------------------------------------------
	// 3) pool 버퍼는 재사용되므로 복사본을 넘긴다
	// ------------------------------------------------------------
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	pool.PutBuffer(buf)

	return data, events, nil
}

// validate 는 줄 단위로 JSON object 인지 확인하고 이벤트 수를 센다.
// writer 는 이벤트 크기를 제한하지 않으므로 한 줄의 길이 상한도 두지 않는다.
func validate(raw []byte) (int, error) {
	events := 0
	lineNo := 0
	for rest := raw; len(rest) > 0; {
		var line []byte
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line, rest = rest[:i], rest[i+1:]
		} else {
			line, rest = rest, nil
		}
		lineNo++

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if line[0] != '{' {
			return 0, fmt.Errorf("%w: line %d is not an object", ErrCorruptBatch, lineNo)
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(line, &obj); err != nil {
			return 0, fmt.Errorf("%w: line %d: %v", ErrCorruptBatch, lineNo, err)
		}
		events++
	}
	if events == 0 {
		return 0, fmt.Errorf("%w: no events", ErrCorruptBatch)
	}
	return events, nil
}
