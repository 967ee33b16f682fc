package tool

import (
	"context"
	"encoding/json"
	stdErrors "errors"

	xerrors "Leno-Agent/internal/errors"
)

// Kind 对工具失败进行分类。
type Kind string

const (
	KindInvalidArgument Kind = "invalid_argument"
	KindNotFound        Kind = "not_found"
	KindUnauthorized    Kind = "unauthorized"
	KindVendor          Kind = "vendor"
	KindTimeout         Kind = "timeout"
	KindInternal        Kind = "internal"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Result 是所有工具统一的返回信封：要么成功携带载荷，要么失败携带分类与描述。
type Result struct {
	ok      bool
	payload any
	kind    Kind
	message string
}

// Ok 构造成功结果。
func Ok(payload any) Result {
	return Result{ok: true, payload: payload}
}

// Err 构造失败结果。
func Err(kind Kind, message string) Result {
	if kind == "" {
		kind = KindInternal
	}
	return Result{kind: kind, message: message}
}

// IsOk 判断是否成功。
func (r Result) IsOk() bool { return r.ok }

// Payload 返回成功载荷，失败时为 nil。
func (r Result) Payload() any { return r.payload }

// Kind 返回失败分类，成功时为空。
func (r Result) Kind() Kind { return r.kind }

// Message 返回失败描述。
func (r Result) Message() string { return r.message }

// Status 返回信封中的 status 字段值。
func (r Result) Status() string {
	if r.ok {
		return statusSuccess
	}
	return statusError
}

// MarshalJSON 把载荷展开到顶层：{"status":"success", ...payload}；
// 非对象载荷放在 "result" 字段中。
func (r Result) MarshalJSON() ([]byte, error) {
	if !r.ok {
		return json.Marshal(struct {
			Status  string `json:"status"`
			Kind    Kind   `json:"kind"`
			Message string `json:"message"`
		}{statusError, r.kind, r.message})
	}

	fields := map[string]json.RawMessage{}
	if r.payload != nil {
		raw, err := json.Marshal(r.payload)
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 && raw[0] == '{' {
			if err := json.Unmarshal(raw, &fields); err != nil {
				return nil, err
			}
		} else if string(raw) != "null" {
			fields["result"] = raw
		}
	}
	fields["status"] = json.RawMessage(`"success"`)
	return json.Marshal(fields)
}

// String 返回信封的 JSON 文本，用于回传给模型。
func (r Result) String() string {
	raw, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(Err(KindInternal, "结果无法序列化: "+err.Error()))
		return string(fallback)
	}
	return string(raw)
}

// FromError 把错误映射为失败信封。
func FromError(err error) Result {
	if err == nil {
		return Ok(nil)
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return Err(KindTimeout, err.Error())
	}
	e, ok := xerrors.From(err)
	if !ok {
		return Err(KindInternal, err.Error())
	}
	message := e.Message()
	if cause := e.Unwrap(); cause != nil {
		message += ": " + cause.Error()
	}
	return Err(kindOf(e.Code()), message)
}

func kindOf(code xerrors.Code) Kind {
	switch code {
	case xerrors.CodeInvalidArgument:
		return KindInvalidArgument
	case xerrors.CodeNotFound, CodeResolveNoMatch, CodeToolNotFound:
		return KindNotFound
	case xerrors.CodeUnauthorized:
		return KindUnauthorized
	case xerrors.CodeVendorFailure:
		return KindVendor
	case xerrors.CodeTimeout:
		return KindTimeout
	default:
		return KindInternal
	}
}
