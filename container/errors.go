package container

import "github.com/cockroachdb/errors"

// Failure taxonomy for one conversion run. All failures are fatal for the
// run; callers classify with errors.Is.
var (
	// ErrNotFound marks a source path that is missing or unreadable.
	ErrNotFound = errors.New("container not found")

	// ErrCorruptContainer marks a structural grammar violation: bad magic,
	// truncated record, unknown op, or a message referencing an undefined
	// channel.
	ErrCorruptContainer = errors.New("corrupt container")

	// ErrWrite marks a destination I/O failure.
	ErrWrite = errors.New("container write failure")

	errUnsupportedCompression = errors.New("unsupported compression algorithm. Available algorithms: [none, lz4, zstd]")
)
