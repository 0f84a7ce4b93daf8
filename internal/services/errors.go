package services

import (
	"errors"

	"im-chat/internal/apperr"
	"im-chat/internal/storage"
)

// storeError 将存储层错误转换为 apperr：已分类的错误原样返回，
// 记录不存在映射为 notFound（非 nil 时），其余视为内部错误。
func storeError(op string, err error, notFound error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if notFound != nil && storage.IsNotFound(err) {
		return notFound
	}
	return apperr.Internal(op, err)
}

func isNotFound(err error) bool {
	return storage.IsNotFound(err)
}
