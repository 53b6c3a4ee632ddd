// Package crerr defines the error taxonomy shared by every crinit-go
// subsystem. Handlers classify a failure by wrapping one of these
// sentinels with errors.Is-compatible context instead of inventing new
// error types per package.
package crerr

import "errors"

var (
	// ErrInvalidArgument covers null/malformed input and opcode/argument
	// count mismatches.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound covers unknown task names and unknown features.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers duplicate-name insert without overwrite.
	ErrConflict = errors.New("conflict")
	// ErrPermission covers socket peer policy denial.
	ErrPermission = errors.New("permission denied")
	// ErrResource covers allocation, thread creation and socket failures.
	ErrResource = errors.New("resource exhausted")
	// ErrParse covers configuration text failures.
	ErrParse = errors.New("parse error")
	// ErrSpawn covers process creation or wait failures.
	ErrSpawn = errors.New("spawn error")
	// ErrSystem covers syscall failures (mount, signal, time, reboot).
	ErrSystem = errors.New("system error")
	// ErrInternal covers lock poisoning and invariant violations.
	ErrInternal = errors.New("internal error")
)
