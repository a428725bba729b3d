// Package errs defines the sentinel error classes the virtual memory
// core returns at its boundaries. It is the Go-idiomatic restatement
// of biscuit's defs.Err_t convention (biscuit's vm and circbuf
// packages both return a defs.Err_t where 0 means success and a
// negative value names the errno class): here, nil means success and
// the three sentinels below are compared with errors.Is.
package errs

import "errors"

// Sentinel error classes. Callers should compare with errors.Is, never
// by string match, since call sites wrap these with additional context
// via github.com/pkg/errors.
var (
	// ENOMEM: a frame, HPT node, or region descriptor allocation
	// failed.
	ENOMEM = errors.New("vm: out of memory")

	// EFAULT: access outside any region, a null-page access, a
	// hardware-impossible fault class, or no current address space.
	EFAULT = errors.New("vm: bad address")

	// EINVAL: fault at or above the user stack top, or an unknown
	// fault kind.
	EINVAL = errors.New("vm: invalid argument")
)

// Is reports whether err is, or wraps, target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
