package chat

import "errors"

// Errors returned by Actions implementations
var (
	ErrUserExists     = errors.New("username already taken")
	ErrUserNotFound   = errors.New("user not found")
	ErrBadCredentials = errors.New("invalid username or password")
)

// Request errors
var (
	ErrBadArity      = errors.New("wrong number of arguments")
	ErrNoLeader      = errors.New("no leader known")
	ErrNotReplicated = errors.New("opcode is not replicated")
	ErrMissingDep    = errors.New("router dependency missing")
)
