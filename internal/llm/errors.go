package llm

import "errors"

var (
	ErrUnauthorized  = errors.New("llm unauthorized")
	ErrRateLimited   = errors.New("llm rate limited")
	ErrMalformed     = errors.New("llm response malformed")
	ErrUnavailable   = errors.New("llm unavailable")
	ErrEgressBlocked = errors.New("egress blocked")
)
