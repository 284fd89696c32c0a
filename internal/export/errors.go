package export

import "errors"

var (
	ErrInvalidSelector  = errors.New("invalid export selector")
	ErrInvalidJobID     = errors.New("invalid job id")
	ErrNoMatchingRows   = errors.New("no entries match the selector")
	ErrJobNotFound      = errors.New("export job not found")
	ErrJobNotComplete   = errors.New("export job is not complete")
	ErrExportInProgress = errors.New("an identical export is already being started")
)
