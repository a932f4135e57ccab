package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"device-analytics/internal/analytics"
	"device-analytics/internal/metrics"
	"device-analytics/internal/model"
	"device-analytics/internal/pool"
	"device-analytics/internal/sender"
	"device-analytics/internal/store"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxBodySize 는 /log 요청 body 상한.
const MaxBodySize int64 = 256 * 1024

// Pipeline 은 핸들러가 쓰는 analytics.Client 기능.
type Pipeline interface {
	Log(name string, category model.Category, attrs map[string]any) error
	Flush(ctx context.Context) error
	Send(ctx context.Context) (sender.Report, error)
	Background(ctx context.Context) (sender.Report, error)
	Pending() ([]store.Batch, error)
}

type Handler struct {
	metrics  *metrics.Metrics
	pipeline Pipeline
	log      zerolog.Logger
}

func NewHandler(m *metrics.Metrics, p Pipeline) *Handler {
	return &Handler{
		metrics:  m,
		pipeline: p,
		log:      log.With().Str("component", "http").Logger(),
	}
}

// Routes
//
// 로컬 제어용 엔드포인트:
//   - POST /log        : 이벤트 기록 (큐에 넣기만 함)
//   - POST /flush      : 큐 비우고 fsync
//   - POST /send       : flush → 회전 → 전송 run
//   - POST /background : 백그라운드 진입 이벤트 + 전송
//   - GET  /pending    : 전송 대기 batch 목록
//   - GET  /metrics, /health
//
// 모든 경로는 loopback 에서 온 요청만 받는다.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /log", h.HandleLog)
	mux.HandleFunc("POST /flush", h.HandleFlush)
	mux.HandleFunc("POST /send", h.HandleSend)
	mux.HandleFunc("POST /background", h.HandleBackground)
	mux.HandleFunc("GET /pending", h.HandlePending)
	mux.HandleFunc("GET /metrics", h.HandleMetrics)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return h.count(localOnly(mux))
}

func (h *Handler) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&h.metrics.HTTPRequestsTotal, 1)
		next.ServeHTTP(w, r)
	})
}

// LogRequest 는 POST /log body.
// category 는 "user_action" 같은 이름 또는 "view-change" 처럼 느슨한 표기도 받는다.
type LogRequest struct {
	Name       string         `json:"name"`
	Category   string         `json:"category"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// HandleLog
//
//  1. 요청 길이 제한(MaxBodySize)
//  2. BodyPool 기반 메모리 재사용
//  3. 큐에 넣기 (가득 차면 503, 이벤트는 버려짐)
func (h *Handler) HandleLog(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	defer r.Body.Close()

	buf := pool.BodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBody(buf, MaxBodySize*2)

	if _, err := io.Copy(buf, r.Body); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	var req LogRequest
	if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cat, err := model.ParseCategory(req.Category)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch err := h.pipeline.Log(req.Name, cat, req.Attributes); {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, analytics.ErrQueueFull), errors.Is(err, analytics.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

func (h *Handler) HandleFlush(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.pipeline.Flush(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	rep, err := h.pipeline.Send(r.Context())
	h.writeReport(w, rep, err)
}

func (h *Handler) HandleBackground(w http.ResponseWriter, r *http.Request) {
	rep, err := h.pipeline.Background(r.Context())
	h.writeReport(w, rep, err)
}

type reportBody struct {
	Attempted int    `json:"attempted"`
	Sent      int    `json:"sent"`
	Discarded int    `json:"discarded"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

// writeReport: 결과 코드
//   - 성공 200
//   - 이미 run 중 409
//   - endpoint 미설정 503
//   - 업로드 실패 502 (report 는 같이 보냄)
func (h *Handler) writeReport(w http.ResponseWriter, rep sender.Report, err error) {
	body := reportBody{
		Attempted: rep.Attempted,
		Sent:      rep.Sent,
		Discarded: rep.Discarded,
		Remaining: rep.Remaining,
	}
	code := http.StatusOK
	if err != nil {
		body.Error = err.Error()
		switch {
		case errors.Is(err, sender.ErrRunInProgress):
			code = http.StatusConflict
		case errors.Is(err, sender.ErrNoEndpoint), errors.Is(err, analytics.ErrClosed):
			code = http.StatusServiceUnavailable
		default:
			code = http.StatusBadGateway
		}
		h.log.Warn().Err(err).Int("status", code).Msg("send request failed")
	}
	writeJSON(w, code, body)
}

type pendingBatch struct {
	ID        string    `json:"id"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) HandlePending(w http.ResponseWriter, _ *http.Request) {
	batches, err := h.pipeline.Pending()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]pendingBatch, 0, len(batches))
	for _, b := range batches {
		out = append(out, pendingBatch{ID: b.ID, Bytes: b.Size, CreatedAt: b.CreatedAt().UTC()})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleMetrics
//
// 파이프라인 상태 카운터를 text 로 출력한다.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.metrics.String())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
