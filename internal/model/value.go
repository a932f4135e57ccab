package model

import (
	"fmt"
	"math"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Kind 는 속성 값이 가질 수 있는 원시 타입.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
)

// Value 는 string / int / float / bool 중 하나만 담는 속성 값.
// 직렬화 시점에 실패하지 않도록 생성 시점에 타입을 확정한다.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

func String(s string) Value { return Value{kind: KindString, s: s} }
func Int(i int64) Value     { return Value{kind: KindInt, i: i} }
func Bool(b bool) Value     { return Value{kind: KindBool, b: b} }

// Float 는 JSON 으로 표현할 수 없는 NaN / ±Inf 를 문자열("NaN", "+Inf", "-Inf")로 바꾼다.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return String(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return Value{kind: KindFloat, f: f}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) Str() string    { return v.s }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float64 { return v.f }
func (v Value) Bool() bool     { return v.b }

// ValueOf 는 임의의 Go 값을 Value 로 변환한다.
// 지원하지 않는 타입은 fmt.Sprint 결과 문자열로 바꾼다 (에러 없음).
func ValueOf(x any) Value {
	switch t := x.(type) {
	case nil:
		return String("")
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		if t > 1<<63-1 {
			return String(strconv.FormatUint(t, 10))
		}
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case time.Duration:
		return Int(t.Milliseconds())
	case time.Time:
		return String(t.UTC().Format(time.RFC3339Nano))
	case error, fmt.Stringer:
		// typed-nil 포인터의 Error()/String() 패닉은 fmt 가 잡아 "<nil>" 로 찍는다
		return String(fmt.Sprint(t))
	default:
		return String(fmt.Sprint(t))
	}
}

// Interface 는 JSON 인코딩용 원시 값을 돌려준다.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	default:
		return v.s
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// Attributes 는 이벤트 속성 맵.
type Attributes map[string]Value

// AttributesOf 는 map[string]any 를 Attributes 로 변환한다.
func AttributesOf(m map[string]any) Attributes {
	if len(m) == 0 {
		return nil
	}
	out := make(Attributes, len(m))
	for k, v := range m {
		out[k] = ValueOf(v)
	}
	return out
}

// Merge 는 환경 속성(base) 위에 이벤트 속성을 덮어쓴 결과를 만든다.
// 키가 겹치면 이벤트 쪽이 이긴다.
func Merge(base map[string]string, attrs Attributes) map[string]any {
	out := make(map[string]any, len(base)+len(attrs))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range attrs {
		out[k] = v.Interface()
	}
	return out
}
