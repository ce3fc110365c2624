package model

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrDecode     = errors.New("decode error")
)
