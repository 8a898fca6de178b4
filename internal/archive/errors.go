package archive

import "errors"

var (
	ErrNotFound  = errors.New("run not found")
	ErrRunActive = errors.New("an analysis run is already active for this user")
)
