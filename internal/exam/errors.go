package exam

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindAlreadyExists
	KindInvalid
	KindProtected
)

// Error is an expected, caller-presentable failure. Unexpected I/O errors
// are never of this type.
type Error struct {
	Kind        ErrorKind
	Message     string
	Description string
}

func (e Error) Error() string {
	return e.Message
}

func NewNotFound(format string, args ...any) error {
	return Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...), Description: "resource not found"}
}

func NewAlreadyExists(format string, args ...any) error {
	return Error{Kind: KindAlreadyExists, Message: fmt.Sprintf(format, args...), Description: "resource already exists"}
}

func NewInvalid(format string, args ...any) error {
	return Error{Kind: KindInvalid, Message: fmt.Sprintf(format, args...), Description: "validation failed"}
}

func NewProtected(format string, args ...any) error {
	return Error{Kind: KindProtected, Message: fmt.Sprintf(format, args...), Description: "resource is protected"}
}

func isKind(err error, k ErrorKind) bool {
	var e Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == k
}

func IsNotFound(err error) bool      { return isKind(err, KindNotFound) }
func IsAlreadyExists(err error) bool { return isKind(err, KindAlreadyExists) }
func IsInvalid(err error) bool       { return isKind(err, KindInvalid) }
func IsProtected(err error) bool     { return isKind(err, KindProtected) }
