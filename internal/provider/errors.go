package provider

import "errors"

// ErrUnknownProvider is returned by New for an unrecognized provider name.
var ErrUnknownProvider = errors.New("provider: unknown provider")
