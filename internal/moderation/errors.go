package moderation

import "errors"

// SuspendedMessage is shown to a suspended user who tries to post.
const SuspendedMessage = "Your account has been suspended"

// ErrAccountSuspended is returned by the post gate for suspended authors.
var ErrAccountSuspended = errors.New("account suspended")

// ContentRejectedError is returned when text fails classification. Reason is
// safe to show to the end user.
type ContentRejectedError struct {
	Field  string
	Reason string
	Rule   string
}

func (e *ContentRejectedError) Error() string {
	return e.Reason
}

// IsContentRejected reports whether err is, or wraps, a *ContentRejectedError.
func IsContentRejected(err error) bool {
	var cre *ContentRejectedError
	return errors.As(err, &cre)
}
