// internal/model/event.go
package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyName       = errors.New("event name is empty")
	ErrUnknownCategory = errors.New("unknown event category")
)

// Category
// ------------------------------------------------------------
// 이벤트 분류. 닫힌 집합이며 숫자 값은 1 부터 시작한다.
// 수집 서버가 type_id 로도 받기 때문에 순서를 바꾸면 안 된다.
type Category uint8

const (
	UserAction Category = iota + 1
	ViewChange
	AppLifecycle
	Debug
	Network
	Warning
	Issue
	Crash
)

var categoryNames = [...]string{
	UserAction:   "user_action",
	ViewChange:   "view_change",
	AppLifecycle: "app_lifecycle",
	Debug:        "debug",
	Network:      "network",
	Warning:      "warning",
	Issue:        "issue",
	Crash:        "crash",
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c >= UserAction && c <= Crash
}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", uint8(c))
	}
	return categoryNames[c]
}

// ParseCategory 는 wire 이름("user_action")을 Category 로 변환한다.
// 대소문자와 '-' 구분자는 관대하게 받는다.
func ParseCategory(s string) (Category, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for c := UserAction; c <= Crash; c++ {
		if categoryNames[c] == norm {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Event
// ------------------------------------------------------------
// 애플리케이션이 남기는 단일 이벤트.
// Log 호출 시점에 잠깐 만들어지고 바로 직렬화되며 메모리에 남지 않는다.
// 시각은 writer 가 찍는다 (호출자가 정하지 않음).
type Event struct {
	Name       string
	Category   Category
	Attributes Attributes
}

// Validate 는 이름과 카테고리만 검사한다.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return ErrEmptyName
	}
	if !e.Category.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownCategory, uint8(e.Category))
	}
	return nil
}

// Record
// ------------------------------------------------------------
// current_log / pending batch 파일의 한 줄(JSONL)에 해당하는 wire 형태.
// 한 줄이 그 자체로 완결된 JSON 객체여야 하며,
// 마지막 줄이 잘려도 앞 줄들은 그대로 읽을 수 있어야 한다.
type Record struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	TypeID     uint8          `json:"type_id"`
	Ts         int64          `json:"ts"` // unix milliseconds
	Attributes map[string]any `json:"attributes,omitempty"`
}
