package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 analytics 파이프라인 상태를 나타내는 카운터 모음이다.
// 모든 필드는 sync/atomic 으로만 읽고 쓴다.
type Metrics struct {
	// ======================
	// 기록(Log → Writer) 지표
	// ======================

	// EventsLoggedTotal
	// - Log() 가 큐에 정상적으로 넣은 이벤트 수.
	EventsLoggedTotal int64

	// EventsRejectedTotal
	// - 이름이 비었거나 카테고리가 잘못되어 호출자 에러로 거절된 이벤트 수.
	EventsRejectedTotal int64

	// EventsDroppedQueueFullTotal
	// - writer 큐가 가득 차서 버려진 이벤트 수.
	// - 이 값이 증가하면 디스크 쓰기가 호출 속도를 못 따라간다는 뜻.
	EventsDroppedQueueFullTotal int64

	// EventsWrittenTotal / BytesWrittenTotal
	// - current_log 에 append 성공한 이벤트 수 / 바이트.
	EventsWrittenTotal int64
	BytesWrittenTotal  int64

	// WriteErrorsTotal
	// - 디스크 full, 권한 문제 등으로 append 에 실패해 버려진 이벤트 수.
	WriteErrorsTotal int64

	// RotationsTotal
	// - current_log → pending batch 회전 횟수 (크기 초과 + 수동 포함).
	RotationsTotal int64

	// ======================
	// Pending store 지표 (gauge)
	// ======================

	BatchesPending int64
	PendingBytes   int64

	// ======================
	// Sender 지표
	// ======================

	// SenderRunsTotal
	// - 실제로 시작된 run 수.
	SenderRunsTotal int64

	// SenderRunsSkippedTotal
	// - 이전 run 이 아직 진행 중이라 건너뛴 run 수.
	SenderRunsSkippedTotal int64

	// SenderRunsFailedTotal
	// - endpoint 설정 오류 또는 업로드 실패로 중간에 멈춘 run 수.
	SenderRunsFailedTotal int64

	// BatchesSentTotal / BytesUploadedTotal
	// - 2xx 확인 후 삭제까지 끝난 batch 수 / 압축 후 바이트.
	BatchesSentTotal   int64
	BytesUploadedTotal int64

	// BatchesDiscardedTotal
	// - 읽을 수 없거나 형식이 깨져서 영구 삭제한 batch 수.
	// - 0 이 아니면 데이터가 실제로 유실되었다는 신호.
	BatchesDiscardedTotal int64

	// UploadErrorsTotal
	// - 업로드 "시도(attempt)" 실패 횟수 (네트워크, non-2xx, timeout).
	UploadErrorsTotal int64

	// ======================
	// 로컬 HTTP 지표
	// ======================

	HTTPRequestsTotal int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "events_logged_total=%d\n", atomic.LoadInt64(&m.EventsLoggedTotal))
	fmt.Fprintf(&sb, "events_rejected_total=%d\n", atomic.LoadInt64(&m.EventsRejectedTotal))
	fmt.Fprintf(&sb, "events_dropped_queue_full_total=%d\n", atomic.LoadInt64(&m.EventsDroppedQueueFullTotal))
	fmt.Fprintf(&sb, "events_written_total=%d\n", atomic.LoadInt64(&m.EventsWrittenTotal))
	fmt.Fprintf(&sb, "bytes_written_total=%d\n", atomic.LoadInt64(&m.BytesWrittenTotal))
	fmt.Fprintf(&sb, "write_errors_total=%d\n", atomic.LoadInt64(&m.WriteErrorsTotal))
	fmt.Fprintf(&sb, "rotations_total=%d\n", atomic.LoadInt64(&m.RotationsTotal))

	fmt.Fprintf(&sb, "batches_pending=%d\n", atomic.LoadInt64(&m.BatchesPending))
	fmt.Fprintf(&sb, "pending_bytes=%d\n", atomic.LoadInt64(&m.PendingBytes))

	fmt.Fprintf(&sb, "sender_runs_total=%d\n", atomic.LoadInt64(&m.SenderRunsTotal))
	fmt.Fprintf(&sb, "sender_runs_skipped_total=%d\n", atomic.LoadInt64(&m.SenderRunsSkippedTotal))
	fmt.Fprintf(&sb, "sender_runs_failed_total=%d\n", atomic.LoadInt64(&m.SenderRunsFailedTotal))
	fmt.Fprintf(&sb, "batches_sent_total=%d\n", atomic.LoadInt64(&m.BatchesSentTotal))
	fmt.Fprintf(&sb, "bytes_uploaded_total=%d\n", atomic.LoadInt64(&m.BytesUploadedTotal))
	fmt.Fprintf(&sb, "batches_discarded_total=%d\n", atomic.LoadInt64(&m.BatchesDiscardedTotal))
	fmt.Fprintf(&sb, "upload_errors_total=%d\n", atomic.LoadInt64(&m.UploadErrorsTotal))

	fmt.Fprintf(&sb, "http_requests_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsTotal))

	return sb.String()
}
