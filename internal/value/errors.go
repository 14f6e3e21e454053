package value

import "fmt"

// Error is the stable, reportable Value error kind set from spec.md §7. Path
// is the struct-field/array-index tree path accumulated as the codec
// unwinds, e.g. "inventory[2].durability".
type Error struct {
	Kind ErrorKind
	Path string
	Msg  string
}

type ErrorKind uint8

const (
	ErrIncompatibleType ErrorKind = iota
	ErrMissingField
	ErrInvalidEnumValue
	ErrMalformedGuid
	ErrIntegerOutOfRange
	ErrVariantNotSubtype
)

func (e *Error) Error() string {
	if e.Path == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

func newErr(kind ErrorKind, path, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Path: path, Msg: fmt.Sprintf(format, args...)}
}

// withPath prefixes an existing *Error's path with a parent segment, or
// wraps a plain error as ErrIncompatibleType if it isn't already a *Error.
// This is how the recursive read/write walks add tree-path context as they
// unwind (spec.md §7 "Propagation").
func withPath(prefix string, err error) error {
	if err == nil {
		return nil
	}
	if ve, ok := err.(*Error); ok {
		if ve.Path == "" {
			ve.Path = prefix
		} else if ve.Path[0] == '[' {
			ve.Path = prefix + ve.Path // index segments attach without a dot
		} else {
			ve.Path = prefix + "." + ve.Path
		}
		return ve
	}
	return &Error{Kind: ErrIncompatibleType, Path: prefix, Msg: err.Error()}
}
