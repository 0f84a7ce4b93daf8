package services

import (
	"github.com/go-playground/validator/v10"

	"im-chat/internal/apperr"
)

var validate = validator.New()

var ErrInvalidEmail = apperr.InvalidRequest("Email is not a valid address")

// checkEmail 校验注册邮箱格式
func checkEmail(email string) error {
	if err := validate.Var(email, "required,email"); err != nil {
		return ErrInvalidEmail
	}
	return nil
}
