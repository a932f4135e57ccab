package server

import (
	"net"
	"net/http"
	"strings"
)

// ------------------------------------------------------------
// IP Utility Functions
//
// 제어 서버는 같은 기기 안의 프로세스만 쓰도록 loopback 에 묶는다.
// HTTP_ADDR 를 실수로 0.0.0.0 으로 열었거나 프록시를 거쳐 들어온 요청은
// 여기서 거절한다.
// ------------------------------------------------------------

// safeParseIP:
//   - 공백/빈 값 대응
//   - 잘못된 값이 들어오면 nil 반환
func safeParseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}

// isLocalRequest:
//  1. X-Forwarded-For 가 있고 loopback 이 아닌 주소가 섞여 있으면 false
//  2. RemoteAddr 이 loopback 이어야 true
func isLocalRequest(r *http.Request) bool {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			ip := safeParseIP(part)
			if ip == nil || !ip.IsLoopback() {
				return false
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := safeParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLocalRequest(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
