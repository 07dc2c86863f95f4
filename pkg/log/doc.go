// Package log provides structured logging for corestate using zerolog:
// a global Logger initialized once via Init, and WithComponent/
// WithStateVersion/WithValidatorID/WithEpoch helpers for building child
// loggers scoped to a commit, a prepare cycle, or a validator.
package log
