package directory

import "errors"

var (
	ErrClosed        = errors.New("directory is closed")
	ErrWriteTimeout  = errors.New("directory write timed out")
	ErrShuttingDown  = errors.New("directory is shutting down")
	ErrSchemaInvalid = errors.New("directory schema is incomplete")
)
