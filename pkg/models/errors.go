package models

import "errors"

// ErrSessionNotFound is returned by operations that require an existing session.
var ErrSessionNotFound = errors.New("session not found")
