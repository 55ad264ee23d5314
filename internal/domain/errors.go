package domain

import "errors"

var (
	ErrAlreadyRunning  = errors.New("strategy already running")
	ErrNotFound        = errors.New("strategy not found")
	ErrNotRunning      = errors.New("strategy not running")
	ErrInvalidLevel    = errors.New("invalid level index")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownVariant  = errors.New("unknown strategy variant")
	ErrUnsupported     = errors.New("operation not supported by strategy variant")
	ErrFiltersMissing  = errors.New("symbol filters not found")
	ErrInvalidOCO      = errors.New("invalid OCO price relation")
)
