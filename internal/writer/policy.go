package writer

// DefaultMaxBytes 는 current_log 회전 기준 (대략 1MiB).
const DefaultMaxBytes int64 = 1 << 20

// Policy 는 append 직후 현재 파일 크기를 보고 회전 여부를 결정한다.
type Policy interface {
	ShouldRotate(size int64) bool
}

// SizePolicy
// ------------------------------------------------------------
// 크기가 MaxBytes 에 도달하면 회전한다.
// 쓰기 "전"에 거절하지 않고 쓰고 "난 뒤"에 검사하므로
// 큰 이벤트 하나가 상한을 넘길 수 있다. 넘는 양은 최대 이벤트 하나 분량.
// MaxBytes <= 0 이면 크기 기반 회전은 끈다 (수동 Rotate 만).
type SizePolicy struct {
	MaxBytes int64
}

func (p SizePolicy) ShouldRotate(size int64) bool {
	return p.MaxBytes > 0 && size >= p.MaxBytes
}
