package app

import "errors"

var (
	// ErrForbidden indicates the caller does not own the target resource.
	ErrForbidden       = errors.New("forbidden")
	ErrNameRequired    = errors.New("name required")
	ErrContentRequired = errors.New("content required")
	ErrNotAFile        = errors.New("target is not a file")
	ErrNoAsset         = errors.New("file has no binary asset")
)
