package observability

import "go.uber.org/zap"

// Field aliases so callers log through the observability package without
// importing zap directly.
var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Duration = zap.Duration
	Error    = zap.Error
	Strings  = zap.Strings
)
