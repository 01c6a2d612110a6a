/*
Package errs provides custom error types and application-level error code constants.

This file maps every error code to its user-facing message and HTTP status.
*/
package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format."},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data."},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrInvalidPayload:       {Code: ErrInvalidPayload, Message: "Malformed %s payload."},
	ErrUnsupportedEvent:     {Code: ErrUnsupportedEvent, Message: "Unsupported event: %s."},

	// 2xxx
	ErrServerNotFound:        {Code: ErrServerNotFound, Message: "Server not found.", Status: http.StatusNotFound},
	ErrInvalidInviteCode:     {Code: ErrInvalidInviteCode, Message: "Invalid invite code."},
	ErrAlreadyMember:         {Code: ErrAlreadyMember, Message: "You are already a member of this server."},
	ErrChannelNotFound:       {Code: ErrChannelNotFound, Message: "Channel not found.", Status: http.StatusNotFound},
	ErrChannelKindMismatch:   {Code: ErrChannelKindMismatch, Message: "This action is not available in a %s channel."},
	ErrInvalidServerName:     {Code: ErrInvalidServerName, Message: "Server name must be between 1 and %d characters."},
	ErrInvalidChannelName:    {Code: ErrInvalidChannelName, Message: "Channel name must be between 1 and %d characters."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrMessageContentEmpty:   {Code: ErrMessageContentEmpty, Message: "Message is empty."},
	ErrNotChannelMember:      {Code: ErrNotChannelMember, Message: "Join the channel before sending messages."},
	ErrFileSizeTooLarge:      {Code: ErrFileSizeTooLarge, Message: "File is too large. The limit is %d MB."},
	ErrFileTypeInvalid:       {Code: ErrFileTypeInvalid, Message: "File type is not allowed."},

	// 3xxx
	ErrAlreadyLoggedIn:    {Code: ErrAlreadyLoggedIn, Message: "You are already signed in."},
	ErrInvalidUsername:    {Code: ErrInvalidUsername, Message: "Invalid username."},
	ErrInvalidPassword:    {Code: ErrInvalidPassword, Message: "Invalid password."},
	ErrUserAlreadyExists:  {Code: ErrUserAlreadyExists, Message: "Username is already taken."},
	ErrInvalidCredentials: {Code: ErrInvalidCredentials, Message: "Incorrect username or password."},
	ErrUserNotFound:       {Code: ErrUserNotFound, Message: "Account not found."},
	ErrUnauthorized:       {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},

	// 5xxx
	ErrUnknown:           {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrFileStorageFailed: {Code: ErrFileStorageFailed, Message: "File upload failed. Please try again."},
}
