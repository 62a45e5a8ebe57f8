package presence

import "errors"

var ErrInvalidMode = errors.New("invalid presence mode")
