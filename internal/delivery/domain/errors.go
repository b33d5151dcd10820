package domain

import "errors"

var (
	// ErrNewsletterNotFound is returned when a newsletter cannot be found in the database
	ErrNewsletterNotFound = errors.New("newsletter not found")

	// ErrSubscriberNotFound is returned when a subscriber cannot be found in the database
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrInvalidMessage is returned when a batch job message payload is malformed
	ErrInvalidMessage = errors.New("invalid batch job message")
)
