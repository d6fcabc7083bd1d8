package engine

import "errors"

// ErrEmptyMessage is returned by Chat and ChatStream when the inbound
// message is empty or whitespace. The check runs before any session,
// classifier, or generation work.
var ErrEmptyMessage = errors.New("message must be a non-empty string")
