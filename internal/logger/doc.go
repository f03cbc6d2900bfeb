// Package logger owns the process-wide zap logger.
//
// Init is called once from main. Library packages never reach for the
// singleton; they receive a *zap.Logger through their Config. The HTTP layer
// stores a request-scoped logger in the context with ToContext and handlers
// read it back with From.
package logger
