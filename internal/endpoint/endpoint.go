// internal/endpoint/endpoint.go
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoEndpoint 는 수집 서버 주소가 설정되지 않았을 때.
// Sender run 전체를 실패시키고 batch 는 하나도 지우지 않는다.
var ErrNoEndpoint = errors.New("analytics endpoint not configured")

// Endpoint 는 업로드 대상 주소와 추가 헤더(인증 등).
//   - http / https : POST 대상
//   - s3://bucket/prefix : S3 PutObject 대상
type Endpoint struct {
	URL    *url.URL
	Header http.Header
}

// Provider 는 전송 시점에 endpoint 를 알려준다 (run 마다 한 번 호출).
type Provider interface {
	Endpoint(ctx context.Context) (Endpoint, error)
}

// ProviderFunc 어댑터.
type ProviderFunc func(ctx context.Context) (Endpoint, error)

func (f ProviderFunc) Endpoint(ctx context.Context) (Endpoint, error) { return f(ctx) }

// Static 은 고정된 endpoint 를 돌려준다.
type Static struct {
	ep  Endpoint
	err error
}

// Parse 는 raw URL 과 bearer 토큰으로 Static provider 를 만든다.
// raw 가 비어 있으면 만들 수는 있지만 Endpoint() 가 ErrNoEndpoint 를 돌려준다.
// (기록은 계속 되고 전송만 실패해야 하므로)
func Parse(raw, token string) (*Static, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &Static{err: ErrNoEndpoint}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("endpoint: parse %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return nil, fmt.Errorf("endpoint: %q has no host", raw)
		}
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("endpoint: %q has no bucket", raw)
		}
	default:
		return nil, fmt.Errorf("endpoint: unsupported scheme %q", u.Scheme)
	}

	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return &Static{ep: Endpoint{URL: u, Header: h}}, nil
}

func (s *Static) Endpoint(context.Context) (Endpoint, error) {
	if s.err != nil {
		return Endpoint{}, s.err
	}
	// 호출자가 헤더를 건드려도 원본은 유지
	ep := s.ep
	ep.Header = s.ep.Header.Clone()
	return ep, nil
}
