package view

// messages.go maps technical errors to user-facing notices with codes for
// support reference.
//
// Codes by category:
//
//	AUTH001 - Session expired: the row service rejected the credential
//	          Action: Log in again
//	NET001  - Service unreachable: connection refused or DNS failure
//	          Action: Check that the row service is running, then retry
//	NET002  - Timeout: the row service did not answer in time
//	          Action: Try again; the previous rows are still shown
//	SVC001  - No data: nothing has been uploaded yet
//	          Action: Upload a CSV file
//	SVC002  - Service error: the row service answered 5xx
//	          Action: Try again later
//	SVC003  - Bad request: the row service rejected the request
//	          Action: Clear the filters and try again
//	FILE001 - File too large
//	FILE002 - Invalid CSV
//	FILE004 - No file selected
//	UPL002  - Too many uploads in progress
//	RATE001 - Rate limited
//	ERR000  - Anything else; check the logs for the technical error
//
// Typed errors (ErrUnauthorized, *TransportError statuses) are checked first,
// then the message patterns in order. The first match wins.

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// UserMessage is user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

// Notice is a non-blocking message attached to a view after a failure.
type Notice struct {
	UserMessage
	Op string // Which fetch or action produced it
}

func (n Notice) String() string {
	return fmt.Sprintf("%s (Code: %s). %s", n.Message, n.Code, n.Action)
}

var (
	msgSessionExpired = UserMessage{
		Message: "Your session has expired",
		Action:  "Log in again",
		Code:    "AUTH001",
	}
	msgUnreachable = UserMessage{
		Message: "The data service is unreachable",
		Action:  "Check that the row service is running, then retry",
		Code:    "NET001",
	}
	msgTimeout = UserMessage{
		Message: "The data service did not answer in time",
		Action:  "Try again; the previous rows are still shown",
		Code:    "NET002",
	}
	msgNoData = UserMessage{
		Message: "No data has been uploaded yet",
		Action:  "Upload a CSV file",
		Code:    "SVC001",
	}
	msgServiceError = UserMessage{
		Message: "The data service failed to answer",
		Action:  "Try again later",
		Code:    "SVC002",
	}
	msgBadRequest = UserMessage{
		Message: "The data service rejected the request",
		Action:  "Clear the filters and try again",
		Code:    "SVC003",
	}
	msgRateLimited = UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}
)

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{pattern: "connection refused", msg: msgUnreachable},
	{pattern: "no such host", msg: msgUnreachable},
	{pattern: "deadline exceeded", msg: msgTimeout},
	{pattern: "timeout", msg: msgTimeout},
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure the file is comma-separated with a header row",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "too many concurrent uploads",
		msg: UserMessage{
			Message: "Too many uploads in progress",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{pattern: "rate limit", msg: msgRateLimited},
	{pattern: "no dataset", msg: msgNoData},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error into a user-facing message. A nil error maps to
// the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if IsUnauthorized(err) {
		return msgSessionExpired
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return msgTimeout
	}

	var te *TransportError
	if errors.As(err, &te) {
		switch {
		case te.Status == http.StatusNotFound:
			return msgNoData
		case te.Status == http.StatusTooManyRequests:
			return msgRateLimited
		case te.Status >= 500:
			return msgServiceError
		case te.Status >= 400 && !matchesPattern(err):
			return msgBadRequest
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

func matchesPattern(err error) bool {
	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return true
		}
	}
	return false
}

// FormatUserError renders "Message (Code: XXX). Action", or "" for nil.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}
