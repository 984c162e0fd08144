// Package services defines the business logic of the northbound gateway:
// identity mapping between partner and internal identifiers, idempotent
// execution of mutations, conversation lifecycle, and the agent directory.
// This file centralizes common service-level error values so that they can
// be consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer;
// translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrMappingNotFound indicates that no active identity mapping exists
	// for the requested external identifier (or internal identifier, for
	// reverse lookups). This is a valid absence, not a store failure.
	ErrMappingNotFound = errors.New("identity mapping not found")

	// ErrDuplicateMapping is returned when an active mapping already claims
	// the same (external_id, mapping_type, tenant_id) alias.
	ErrDuplicateMapping = errors.New("identity mapping already exists")

	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not accessible to the current tenant.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrEmptyTitle is returned when a rename request carries a blank title.
	ErrEmptyTitle = errors.New("title is empty")

	// ErrRunNotFound indicates that no active chat run matches the given
	// conversation.
	ErrRunNotFound = errors.New("chat run not found")
)
