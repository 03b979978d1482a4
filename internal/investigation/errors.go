package investigation

import "errors"

// Common errors.
var (
	ErrInvalidQuery     = errors.New("invalid query")
	ErrMalformedPayload = errors.New("malformed payload")
)
