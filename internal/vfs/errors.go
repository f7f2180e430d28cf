package vfs

import "fmt"

// Error codes mirroring Node.js filesystem errors.
const (
	CodeNoEnt    = "ENOENT"
	CodeNotDir   = "ENOTDIR"
	CodeIsDir    = "EISDIR"
	CodeExist    = "EEXIST"
	CodeNotEmpty = "ENOTEMPTY"
	CodeInval    = "EINVAL"
)

// errno values follow Linux conventions, matching what Node reports.
var errnos = map[string]int{
	CodeNoEnt:    -2,
	CodeNotDir:   -20,
	CodeIsDir:    -21,
	CodeExist:    -17,
	CodeNotEmpty: -39,
	CodeInval:    -22,
}

var messages = map[string]string{
	CodeNoEnt:    "no such file or directory",
	CodeNotDir:   "not a directory",
	CodeIsDir:    "illegal operation on a directory",
	CodeExist:    "file already exists",
	CodeNotEmpty: "directory not empty",
	CodeInval:    "invalid argument",
}

// Error is a Node-style filesystem error with code, errno, syscall and path.
type Error struct {
	Code    string
	Errno   int
	Syscall string
	Path    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s, %s '%s'", e.Code, messages[e.Code], e.Syscall, e.Path)
}

// newError builds an Error for the given code, syscall and path.
func newError(code, syscall, path string) *Error {
	return &Error{
		Code:    code,
		Errno:   errnos[code],
		Syscall: syscall,
		Path:    path,
	}
}

// IsNotExist reports whether err is a vfs Error with code ENOENT.
func IsNotExist(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Code == CodeNoEnt
}
