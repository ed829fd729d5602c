package model

import (
	"errors"
)

// Domain error taxonomy. Callers match with errors.Is.
var (
	// ErrNotFound means the conversation or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyClaimed means a claim race was lost to another agent.
	ErrAlreadyClaimed = errors.New("conversation already claimed")

	// ErrNotOwner means the caller is not the owning agent.
	ErrNotOwner = errors.New("not the owning agent")

	// ErrDuplicateMessage means a message with the same (channel,
	// channel_message_id) already exists. Benign: ingestion absorbs it and
	// returns the existing record.
	ErrDuplicateMessage = errors.New("duplicate message")

	// ErrNotAMessage means an inbound payload is a channel event (status
	// callback, receipt) rather than a customer message.
	ErrNotAMessage = errors.New("payload is not a message")

	// ErrDeliveryFailed means the channel adapter could not deliver an
	// outbound message.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrValidation means a payload failed validation.
	ErrValidation = errors.New("validation failed")

	// ErrStorageUnavailable means the store could not be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
