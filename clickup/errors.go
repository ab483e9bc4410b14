package clickup

import (
	"errors"
	"fmt"
	"strings"
)

// ClickUp error codes carried in the "ECODE" field of error bodies.
const (
	timeInStatusDisabledCode = "TIS_027"
	notAuthorizedCode        = "OAUTH_018"
)

var (
	// ErrTimeInStatusDisabled indicates the Time in Status ClickApp is turned
	// off for the workspace.
	ErrTimeInStatusDisabled = errors.New("time in status is not enabled for this workspace")

	// ErrCustomIDRequiresWorkspace indicates a custom task id was sent
	// without a workspace, so ClickUp could not resolve it.
	ErrCustomIDRequiresWorkspace = errors.New("custom task id used without a workspace")
)

// TransportError means the request could not be sent or the response could
// not be read.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: request failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError means the response body did not have the expected shape. Body
// keeps the raw payload for diagnostics.
type ParseError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: unexpected response (status %d): %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: error parsing response (status %d): %v", e.Op, e.StatusCode, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// translateError maps a failed response to the error taxonomy. ClickUp only
// signals the interesting cases through codes inside the body text, so the
// matching is done on the raw body here and nowhere else.
func translateError(op string, status int, body string, workspaceID string, cause error) error {
	switch {
	case strings.Contains(body, timeInStatusDisabledCode):
		return ErrTimeInStatusDisabled
	case strings.Contains(body, notAuthorizedCode) && workspaceID == "":
		return ErrCustomIDRequiresWorkspace
	default:
		return &ParseError{Op: op, StatusCode: status, Body: body, Err: cause}
	}
}

// Messages shown to end users. Only the two user-actionable failures get a
// specific message.
const (
	MsgTimeInStatusDisabled = "Time in status is not enabled for the selected workspace."
	MsgCustomIDError        = "You might be using a custom id without setting the `Use Custom ID` field to true."
	MsgGeneric              = "Something went wrong, please review the information in the form and try again."
)

// UserMessage returns the message to show for err and whether the failure is
// something the user can fix.
func UserMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrTimeInStatusDisabled):
		return MsgTimeInStatusDisabled, true
	case errors.Is(err, ErrCustomIDRequiresWorkspace):
		return MsgCustomIDError, true
	default:
		return MsgGeneric, false
	}
}
