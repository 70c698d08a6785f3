/*

This file contains the failure taxonomy shared by every component that runs inside a ledger transaction.

Each rejected call carries a Category so that off-chain schedulers can decide whether to wait (window)
or escalate (admission, bound). Components declare their own sentinels with New and wrap them with
fmt.Errorf("%w: ...") to add context.

*/

package errs

import (
	"errors"
	"fmt"
)

// Category classifies why a call was rejected.
type Category string

const (
	// Admission means the caller lacks the required capability.
	Admission Category = "admission"
	// Window means a cooldown or report interval is not satisfied yet (or has lapsed).
	Window Category = "window"
	// Bound means a computed rate, fee, ratio or gas price exceeds a configured limit.
	Bound Category = "bound"
	// Arithmetic means a division by a zero aggregate or a fixed-point overflow.
	Arithmetic Category = "arithmetic"
	// Exhaustion means a credit balance or a buffer floor would be breached.
	Exhaustion Category = "exhaustion"
	// External means a consumed collaborator (oracle, vault) returned an unusable answer.
	External Category = "external"
)

// Error is a categorized, coded failure.
type Error struct {
	Category Category
	Code     string
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.Code, e.Category, e.Message)
}

// New declares a categorized sentinel.
func New(category Category, code, message string) *Error {
	return &Error{Category: category, Code: code, Message: message}
}

// CategoryOf returns the category of the first categorized error in err's chain.
func CategoryOf(err error) (Category, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Category, true
	}
	return "", false
}

// IsCategory reports whether err belongs to category.
func IsCategory(err error, category Category) bool {
	c, ok := CategoryOf(err)
	return ok && c == category
}

// CodeOf returns the code of the first categorized error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

var (
	ErrOverflow     = New(Arithmetic, "OVERFLOW", "fixed-point computation overflowed")
	ErrDivideByZero = New(Arithmetic, "DIV_ZERO", "division by a zero aggregate")
	ErrMathApprox   = New(Arithmetic, "MATH_APPROX", "power approximation input out of range")
)
