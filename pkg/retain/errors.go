package retain

import "errors"

var (
    ErrInvalidTopic    = errors.New("retain: invalid topic name")
    ErrInvalidFilter   = errors.New("retain: invalid topic filter")
    ErrLimitExceeded   = errors.New("retain: retained messages exceeded max limit")
    ErrPayloadTooLarge = errors.New("retain: payload exceeds max size")
    ErrClosed          = errors.New("retain: storage closed")
)
