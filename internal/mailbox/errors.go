package mailbox

import (
	"errors"
	"fmt"
)

// ErrDisconnected is returned by Conn.Wait when the server closes the
// connection.
var ErrDisconnected = errors.New("mailbox: connection closed by server")

// AuthError indicates that the server rejected the credentials.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
