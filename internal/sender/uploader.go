// internal/sender/uploader.go
package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"device-analytics/internal/endpoint"
)

// Payload 는 업로드 한 번에 실리는 batch.
type Payload struct {
	BatchID   string
	CreatedAt time.Time
	Body      []byte // gzip(JSONL)
	Events    int
}

// Uploader 는 payload 를 endpoint 로 1회 전송한다.
// 재시도와 timeout 은 Sender 가 담당한다.
type Uploader interface {
	Upload(ctx context.Context, ep endpoint.Endpoint, p Payload) error
}

// StatusError 는 서버가 2xx 가 아닌 응답을 줬을 때.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

const (
	HeaderBatchID = "X-Analytics-Batch-Id"
	contentType   = "application/x-ndjson"
)

// HTTPUploader
// ------------------------------------------------------------
// gzip body 를 POST 한다. 2xx 만 성공으로 본다.
type HTTPUploader struct {
	client *http.Client
}

// NewHTTPUploader 는 client 가 nil 이면 기본 transport 를 쓴다.
// 요청별 timeout 은 ctx 로 걸리므로 client.Timeout 은 두지 않는다.
func NewHTTPUploader(client *http.Client) *HTTPUploader {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPUploader{client: client}
}

func (u *HTTPUploader) Upload(ctx context.Context, ep endpoint.Endpoint, p Payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL.String(), bytes.NewReader(p.Body))
	if err != nil {
		return err
	}
	for k, vs := range ep.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set(HeaderBatchID, p.BatchID)

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// keep-alive 재사용을 위해 body 는 비운다
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
}
