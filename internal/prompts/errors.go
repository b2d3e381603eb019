package prompts

import "errors"

// ErrInvalidTemplate indicates a template that cannot be used for rendering.
var ErrInvalidTemplate = errors.New("invalid prompt template")
