package models

import "errors"

// Failure classes surfaced to the originating client. Registry and
// presence problems are logged and self-healed instead of raising these.
var (
	// ErrMessageNotFound means the delete/clear target does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotSender means a delete-for-everyone was attempted by someone
	// other than the message's original sender.
	ErrNotSender = errors.New("only the sender can delete a message for everyone")

	// ErrConnectionClosed means a push was attempted on a connection that
	// no longer accepts writes.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendBufferFull means a connection's outbound buffer is full; the
	// connection is treated as stale and pruned.
	ErrSendBufferFull = errors.New("send buffer full")
)
