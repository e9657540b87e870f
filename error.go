package echomux

import "errors"

var ErrDuplicateRegistration = errors.New("channel already registered")
var ErrNotRegistered = errors.New("channel is not registered")
var ErrWouldBlock = errors.New("operation would block")
var ErrSelectorClosed = errors.New("selector is closed")
