package lenses

import "errors"

var ErrNotFound = errors.New("lens not found")
