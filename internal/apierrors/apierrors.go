package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Spec describes one public error code: a stable string code, a numeric
// business code, the HTTP status it maps to, and bilingual messages.
type Spec struct {
	Code       string
	Numeric    int
	HTTPStatus int
	MessageZH  string
	MessageEN  string
}

const (
	CodeAuthMissing        = "ERR_AUTH_MISSING"
	CodeAuthInvalid        = "ERR_AUTH_INVALID"
	CodeFileTooLarge       = "ERR_FILE_TOO_LARGE"
	CodeBatchLimitExceeded = "ERR_BATCH_LIMIT_EXCEEDED"
	CodeFormatUnsupported  = "ERR_FORMAT_UNSUPPORTED"
	CodeTaskFailed         = "ERR_TASK_FAILED"
)

var registry = map[string]Spec{
	CodeAuthMissing: {
		Code:       CodeAuthMissing,
		Numeric:    4010,
		HTTPStatus: http.StatusUnauthorized,
		MessageZH:  "缺少鉴权信息",
		MessageEN:  "Missing authentication credentials",
	},
	CodeAuthInvalid: {
		Code:       CodeAuthInvalid,
		Numeric:    4011,
		HTTPStatus: http.StatusUnauthorized,
		MessageZH:  "鉴权信息无效",
		MessageEN:  "Invalid authentication credentials",
	},
	CodeFileTooLarge: {
		Code:       CodeFileTooLarge,
		Numeric:    4201,
		HTTPStatus: http.StatusBadRequest,
		MessageZH:  "文件大小超过限制",
		MessageEN:  "File size exceeds the allowed limit",
	},
	CodeBatchLimitExceeded: {
		Code:       CodeBatchLimitExceeded,
		Numeric:    4202,
		HTTPStatus: http.StatusBadRequest,
		MessageZH:  "批量任务数量超过限制",
		MessageEN:  "Batch size exceeds the allowed limit",
	},
	CodeFormatUnsupported: {
		Code:       CodeFormatUnsupported,
		Numeric:    4203,
		HTTPStatus: http.StatusBadRequest,
		MessageZH:  "不支持的文件格式",
		MessageEN:  "Unsupported file format",
	},
	CodeTaskFailed: {
		Code:       CodeTaskFailed,
		Numeric:    5001,
		HTTPStatus: http.StatusInternalServerError,
		MessageZH:  "任务执行失败",
		MessageEN:  "Task execution failed",
	},
}

// Lookup returns the spec for code. Unknown codes degrade to ERR_TASK_FAILED.
func Lookup(code string) Spec {
	if s, ok := registry[code]; ok {
		return s
	}
	return registry[CodeTaskFailed]
}

// APIError is the error type handlers return for client-visible failures.
type APIError struct {
	Spec   Spec
	Detail string
}

func New(code string, detail string) *APIError {
	return &APIError{Spec: Lookup(code), Detail: detail}
}

func Newf(code string, format string, args ...any) *APIError {
	return &APIError{Spec: Lookup(code), Detail: fmt.Sprintf(format, args...)}
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Spec.Code, e.Spec.MessageEN)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Spec.Code, e.Spec.MessageEN, e.Detail)
}

func (e *APIError) HTTPStatusCode() int { return e.Spec.HTTPStatus }

// Body is the JSON payload written for an API error response.
type Body struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code"`
	MessageZH string `json:"message_zh"`
	MessageEN string `json:"message_en"`
	Detail    string `json:"detail,omitempty"`
}

func (e *APIError) Body() Body {
	return Body{
		Code:      e.Spec.Numeric,
		ErrorCode: e.Spec.Code,
		MessageZH: e.Spec.MessageZH,
		MessageEN: e.Spec.MessageEN,
		Detail:    e.Detail,
	}
}

// From coerces any error into an *APIError, defaulting to ERR_TASK_FAILED.
func From(err error) *APIError {
	if err == nil {
		return nil
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae
	}
	return New(CodeTaskFailed, err.Error())
}
