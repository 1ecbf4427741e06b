// Package campaign implements campaign lifecycle management and delivery.
//
// The service sends a stored campaign to every member of its segment,
// respecting each learner's marketing opt-in, and exposes the
// single-recipient path used by event-triggered automation. It depends on
// repository interfaces defined in this package and in package sending.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
