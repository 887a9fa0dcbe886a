package service

import "errors"

// Failure classes of one relayed exchange. Malformed payloads match contracts.ErrMalformed.
var (
	ErrUnknownMethod     = errors.New("unknown method")
	ErrDownstreamTimeout = errors.New("downstream manager did not reply in time")
	ErrTransport         = errors.New("transport fault")
)
