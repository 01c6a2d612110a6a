/*
Package errs provides custom error types and application-level error code constants.

These error codes identify business and system failures both inside the server and
on the wire, where they travel in `error` and `auth-error` socket events and in REST
JSON responses.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body or socket frame is not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrInvalidPayload indicates a socket event whose payload is missing required fields.
	ErrInvalidPayload = 1101

	// ErrUnsupportedEvent indicates a socket event type the server does not handle.
	ErrUnsupportedEvent = 1102
)

// 2xxx: Community and Content Business Logic Errors
const (
	// ErrServerNotFound indicates that the requested server does not exist or is not visible to the user.
	ErrServerNotFound = 2101

	// ErrInvalidInviteCode indicates that no server matches the supplied invite code.
	ErrInvalidInviteCode = 2102

	// ErrAlreadyMember indicates that the user already belongs to the server.
	ErrAlreadyMember = 2103

	// ErrChannelNotFound indicates that the requested channel does not exist.
	ErrChannelNotFound = 2104

	// ErrChannelKindMismatch indicates a text operation on a voice channel or the reverse.
	ErrChannelKindMismatch = 2105

	// ErrInvalidServerName indicates an empty or overlong server name.
	ErrInvalidServerName = 2106

	// ErrInvalidChannelName indicates an empty or overlong channel name.
	ErrInvalidChannelName = 2107

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length.
	ErrMessageContentTooLong = 2201

	// ErrMessageContentEmpty indicates an empty message.
	ErrMessageContentEmpty = 2202

	// ErrNotChannelMember indicates a message sent to a channel the connection has not joined.
	ErrNotChannelMember = 2203

	// ErrFileSizeTooLarge indicates that an uploaded file exceeds the size limit.
	ErrFileSizeTooLarge = 2301

	// ErrFileTypeInvalid indicates an upload whose extension or MIME type is not allowed.
	ErrFileTypeInvalid = 2302
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrAlreadyLoggedIn indicates that the connection or request is already authenticated.
	ErrAlreadyLoggedIn = 3001

	// ErrInvalidUsername indicates a username that does not match the allowed pattern.
	ErrInvalidUsername = 3002

	// ErrInvalidPassword indicates a password outside the allowed length.
	ErrInvalidPassword = 3003

	// ErrUserAlreadyExists indicates a registration with a taken username.
	ErrUserAlreadyExists = 3004

	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = 3005

	// ErrUserNotFound indicates an unknown user id.
	ErrUserNotFound = 3006

	// ErrUnauthorized indicates a request that requires authentication.
	ErrUnauthorized = 3007
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrFileStorageFailed indicates that the object storage backend failed or is not configured.
	ErrFileStorageFailed = 5001
)
