package link

import "errors"

var (
	ErrLinkTimeout = errors.New("heat pump did not answer in time")
	ErrAckTimeout  = errors.New("heat pump did not acknowledge the write")
	ErrNotSynced   = errors.New("heat pump link not synced")
	ErrPortFailure = errors.New("heat pump port failure")
)
