package apperr

// Code 是面向客户端的错误分类。
type Code string

const (
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeNotFound         Code = "NOT_FOUND"
	CodeExpired          Code = "EXPIRED"
	CodeConflict         Code = "CONFLICT"
	CodeForbidden        Code = "FORBIDDEN"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeTransientFailure Code = "TRANSIENT_STORE_FAILURE"
	CodeInternal         Code = "INTERNAL"
)
