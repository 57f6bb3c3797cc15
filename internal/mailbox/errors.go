package mailbox

import (
	"errors"
	"fmt"
)

// ConnectionError indicates a transport or handshake failure. The session
// is disconnected when one is returned.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection error (%s)", e.Op)
	}
	return fmt.Sprintf("connection error (%s): %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthenticationError indicates the server rejected the credentials.
type AuthenticationError struct {
	Username string
	Message  string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %s", e.Username, e.Message)
}

// ProtocolError is a NO or BAD completion for one command. The session
// remains usable.
type ProtocolError struct {
	Command string
	Status  Status
	Detail  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed: %s %s", e.Command, e.Status, e.Detail)
}

// FolderError indicates a folder that does not exist, cannot be selected,
// or is protected against the requested change.
type FolderError struct {
	Folder string
	Reason string
	Err    error
}

func (e *FolderError) Error() string {
	return fmt.Sprintf("folder %q: %s", e.Folder, e.Reason)
}

func (e *FolderError) Unwrap() error { return e.Err }

// NotFoundError indicates a sequence number absent from the current
// selection.
type NotFoundError struct {
	Folder  string
	Ordinal Ordinal
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("message %d not found in %q", e.Ordinal, e.Folder)
}

// ValidationError indicates malformed caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsFatal reports whether err requires the session to be reestablished.
func IsFatal(err error) bool {
	var connErr *ConnectionError
	var authErr *AuthenticationError
	return errors.As(err, &connErr) || errors.As(err, &authErr)
}

// IsNotFound reports whether err (or any error in its chain) is a
// NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err (or any error in its chain) is a
// ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsFolderError reports whether err (or any error in its chain) is a
// FolderError.
func IsFolderError(err error) bool {
	var fe *FolderError
	return errors.As(err, &fe)
}
