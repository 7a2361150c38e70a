package errs

import "errors"

var InvalidCredentials = errors.New("invalid credentials")

var (
	InternalError   = errors.New("internal error")
	GeneratingToken = errors.New("error generating token")
)

// Registry and protocol errors. Handlers answer these with an error frame
// and leave the connection open.
var (
	ErrNodeNotFound     = errors.New("node not found")
	ErrDuplicateConnect = errors.New("node already connected")
	ErrNoAssignedTask   = errors.New("node has no assigned task")
	ErrTaskMismatch     = errors.New("reported task does not match assignment")
	ErrTaskNotFound     = errors.New("task not found")
	ErrJobNotFound      = errors.New("job not found")
	ErrUnknownCodec     = errors.New("unknown codec")
	ErrInvalidJob       = errors.New("invalid job")
)

// Worker side errors.
var (
	ErrNoFreeSlot     = errors.New("no free converter slot")
	ErrNotConnected   = errors.New("not connected to master")
	ErrRejected       = errors.New("connection rejected by master")
	ErrMissingEncoder = errors.New("missing encoder")
)
