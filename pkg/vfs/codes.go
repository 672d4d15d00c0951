package vfs

import "errors"

// Stable error types used on the wire. Clients map them back onto the
// sentinels with FromCode.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeNotAFile          = "NOT_A_FILE"
	CodeNotADirectory     = "NOT_A_DIRECTORY"
	CodeParentNotFound    = "PARENT_NOT_FOUND"
	CodeAlreadyExists     = "ALREADY_EXISTS"
	CodeDirectoryNotEmpty = "DIRECTORY_NOT_EMPTY"
	CodeDecode            = "DECODE_ERROR"
	CodeEngine            = "ENGINE_ERROR"
)

var codes = map[error]string{
	ErrNotFound:          CodeNotFound,
	ErrNotAFile:          CodeNotAFile,
	ErrNotADirectory:     CodeNotADirectory,
	ErrParentNotFound:    CodeParentNotFound,
	ErrAlreadyExists:     CodeAlreadyExists,
	ErrDirectoryNotEmpty: CodeDirectoryNotEmpty,
	ErrDecode:            CodeDecode,
	ErrEngine:            CodeEngine,
}

// Code returns the wire error type for err, or "" when err wraps none of the
// sentinels.
func Code(err error) string {
	for _, s := range Sentinels {
		if errors.Is(err, s) {
			return codes[s]
		}
	}
	return ""
}

// FromCode returns the sentinel for a wire error type, or nil if the type is
// unknown.
func FromCode(code string) error {
	for s, c := range codes {
		if c == code {
			return s
		}
	}
	return nil
}
