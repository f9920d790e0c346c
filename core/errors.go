package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持 errors.Is：Module 与 Code 相同即视为同一类错误
//
// 使用场景：
//   - Engine 错误：NOT_LOADED, ALREADY_LOADED, INVALID_INPUT
//   - Oracle 错误：UNRECOGNIZED_OUTPUT
//   - Bundle 错误：INVALID_BUNDLE
//   - Store 错误：NOT_FOUND, NOT_SUPPORTED
type DomainError struct {
	Code    string // 错误代码（如 "NOT_LOADED", "INVALID_INPUT"）
	Message string // 错误消息
	Module  string // 模块名称（如 "engine", "oracle", "store"）
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is 让 errors.Is 可以穿透 fmt.Errorf("%w") 的包装按 Module+Code 匹配。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Module == t.Module && e.Code == t.Code && (t.Message == "" || e.Message == t.Message)
}

// IsDomainError 检查错误链中是否包含 DomainError
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取错误链中的第一个 DomainError，如果不存在则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 资源不存在
	ErrorCodeNotSupported       = "NOT_SUPPORTED"       // 操作不支持
	ErrorCodeInvalidInput       = "INVALID_INPUT"       // 输入无效（调用方错误，不重试）
	ErrorCodeNotLoaded          = "NOT_LOADED"          // 模型包未加载（预热完成后可重试）
	ErrorCodeAlreadyLoaded      = "ALREADY_LOADED"      // 模型包已加载，Loaded 为终态
	ErrorCodeUnrecognizedOutput = "UNRECOGNIZED_OUTPUT" // 打分模型输出形态无法识别
	ErrorCodeInvalidBundle      = "INVALID_BUNDLE"      // 模型包内容不一致
)

// 模块名称常量
const (
	ModuleEngine = "engine" // 推荐引擎
	ModuleOracle = "oracle" // 打分模型适配层
	ModuleBundle = "bundle" // 模型包加载
	ModuleStore  = "store"  // 存储模块
)

// Engine / Oracle / Bundle 错误定义
var (
	// ErrNotLoaded 表示引擎尚未加载模型包
	ErrNotLoaded = NewDomainError(ModuleEngine, ErrorCodeNotLoaded, "engine: bundle not loaded")

	// ErrAlreadyLoaded 表示引擎已经加载过模型包
	ErrAlreadyLoaded = NewDomainError(ModuleEngine, ErrorCodeAlreadyLoaded, "engine: bundle already loaded")

	// ErrInvalidUserID 表示用户 ID 非整数或超出取值范围（由边界层校验）
	ErrInvalidUserID = NewDomainError(ModuleEngine, ErrorCodeInvalidInput, "engine: invalid user id")

	// ErrInvalidCount 表示请求数量 n <= 0
	ErrInvalidCount = NewDomainError(ModuleEngine, ErrorCodeInvalidInput, "engine: invalid recommendation count")

	// ErrOracleOutputUnrecognized 表示打分模型返回的结构无法归一化。
	// 引擎内部消化此错误，替换为热门兜底结果，不会返回给调用方。
	ErrOracleOutputUnrecognized = NewDomainError(ModuleOracle, ErrorCodeUnrecognizedOutput, "oracle: unrecognized output shape")

	// ErrInvalidBundle 表示模型包各部分之间不一致
	ErrInvalidBundle = NewDomainError(ModuleBundle, ErrorCodeInvalidBundle, "bundle: invalid bundle")
)

// 通用错误检查函数

// IsNotLoaded 检查错误是否为 NOT_LOADED
func IsNotLoaded(err error) bool {
	return hasCode(err, ErrorCodeNotLoaded)
}

// IsInvalidInput 检查错误是否为 INVALID_INPUT（ErrInvalidUserID / ErrInvalidCount）
func IsInvalidInput(err error) bool {
	return hasCode(err, ErrorCodeInvalidInput)
}

// IsUnrecognizedOutput 检查错误是否为 UNRECOGNIZED_OUTPUT
func IsUnrecognizedOutput(err error) bool {
	return hasCode(err, ErrorCodeUnrecognizedOutput)
}

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool {
	return hasCode(err, ErrorCodeNotSupported)
}

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}
