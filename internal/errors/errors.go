package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于决定一次失败是中止训练还是降级为警告。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message  string
	Severity Severity
	// Fatal 表示该类错误出现在关键阶段时必须中止运行。
	Fatal bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
			Fatal:    true,
		},
		CodeConfigInvalid: {
			Message:  "invalid run configuration",
			Severity: SeverityCritical,
			Fatal:    true,
		},
		CodePluginNotFound: {
			Message:  "plugin not found",
			Severity: SeverityCritical,
			Fatal:    true,
		},
		CodeCapabilityMissing: {
			Message:  "required capability not provided",
			Severity: SeverityCritical,
			Fatal:    true,
		},
		CodeCapabilityConflict: {
			Message:  "capability conflict between plugins",
			Severity: SeverityCritical,
			Fatal:    true,
		},
		CodeDependencyCycle: {
			Message:  "capability dependency cycle",
			Severity: SeverityCritical,
			Fatal:    true,
		},
		CodeHookFailure: {
			Message:  "hook invocation failed",
			Severity: SeverityCritical,
			Fatal:    true,
		},
		CodeLoggingFailure: {
			Message:  "logging hook failed",
			Severity: SeverityWarning,
			Fatal:    false,
		},
		CodeStorageFailure: {
			Message:  "experiment storage failure",
			Severity: SeverityWarning,
			Fatal:    false,
		},
		CodePublishFailure: {
			Message:  "metric publish failure",
			Severity: SeverityWarning,
			Fatal:    false,
		},
	}
)

const (
	CodeUnknown            Code = "UNKNOWN"
	CodeConfigInvalid      Code = "CONFIG_INVALID"
	CodePluginNotFound     Code = "PLUGIN_NOT_FOUND"
	CodeCapabilityMissing  Code = "CAPABILITY_MISSING"
	CodeCapabilityConflict Code = "CAPABILITY_CONFLICT"
	CodeDependencyCycle    Code = "DEPENDENCY_CYCLE"
	CodeHookFailure        Code = "HOOK_FAILURE"
	CodeLoggingFailure     Code = "LOGGING_FAILURE"
	CodeStorageFailure     Code = "STORAGE_FAILURE"
	CodePublishFailure     Code = "PUBLISH_FAILURE"
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	attr, ok := registry[code]
	registryMu.RUnlock()
	if ok {
		return attr
	}
	registryMu.RLock()
	fallback := registry[CodeUnknown]
	registryMu.RUnlock()
	return fallback
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	severity *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，例如插件名、钩子名。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// Fatal 判断该错误是否必须中止运行。
func (e *Error) Fatal() bool {
	if e == nil {
		return false
	}
	return AttributesOf(e.code).Fatal
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}
