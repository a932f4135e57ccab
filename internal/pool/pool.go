package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// sender 는 run 마다 batch 파일(최대 ~1MiB)을 읽어 gzip 으로 압축하고,
// 로컬 HTTP 서버는 /log 요청 body 를 읽는다.
// 매번 큰 버퍼와 gzip.Writer 를 새로 만들지 않도록 재사용한다.
// ---------------------------------------------------------------

var (
	// BodyPool:
	//   - /log POST body 를 임시 저장하는 버퍼
	//   - 초기 용량 4KB (이벤트 한 건은 대부분 여기에 들어감)
	BodyPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 4*1024))
		},
	}

	// BufferPool:
	//   - batch gzip 결과를 담는 임시 버퍼
	//   - 초기 용량 256KB (1MiB JSONL 은 보통 이보다 작게 압축됨)
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용
	//   - BestSpeed: 기기 CPU 를 적게 쓰는 쪽을 택함
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// Pool에 되돌려줄 최대 버퍼 용량.
// 이보다 큰 버퍼는 GC 에 맡긴다.
const MaxBufferCap = 2 * 1024 * 1024 // 2MB

// PutBody:
//   - maxCap 보다 커진 body 버퍼는 풀에 넣지 않는다.
func PutBody(buf *bytes.Buffer, maxCap int64) {
	if int64(buf.Cap()) <= maxCap {
		buf.Reset()
		BodyPool.Put(buf)
	}
}

// PutBuffer:
//   - gzip 결과 버퍼 반환 (MaxBufferCap 이하만)
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
