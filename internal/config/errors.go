package config

import (
	"errors"
	"fmt"
)

// FieldError 描述单个配置字段的校验失败，Field 采用 Global.Name 形式。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// AsFieldError 从错误链中取出 FieldError，CLI 据此给出字段级提示。
func AsFieldError(err error) (FieldError, bool) {
	var fe FieldError
	if errors.As(err, &fe) {
		return fe, true
	}
	return FieldError{}, false
}

func invalidField(field, reason string) error {
	return FieldError{Field: "Global." + field, Reason: reason}
}
