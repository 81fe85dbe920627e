package gemini

import "fmt"

// DecodeError means the request input could not be decoded before any
// provider call was made (malformed base64, empty image).
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image input: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ProviderError means the model provider call failed, including expiry of
// the bounded call timeout.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("model provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
