// Package services defines the business logic for submissions, moderation,
// subscriptions, quotas and reminders. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Lifecycle errors.
var (
	// ErrNotFound indicates that the referenced post or user does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleOperation is returned when resolving a post that already left
	// pending. Callers should treat it as "already handled".
	ErrStaleOperation = errors.New("post already handled")

	// ErrQuotaExceeded is returned when a non-privileged user has used up the
	// daily submission allowance. No post is created.
	ErrQuotaExceeded = errors.New("daily submission limit reached")

	// ErrPublicationFailed wraps a failed publish. The post state is unchanged.
	ErrPublicationFailed = errors.New("publication failed")

	// ErrNotificationFailed wraps a failed notification. It never aborts the
	// state change that triggered it.
	ErrNotificationFailed = errors.New("notification failed")

	// ErrPublishedNotRecorded is returned when a privileged post reached the
	// channel but could not be stored. The content is public; resubmitting
	// would publish it twice.
	ErrPublishedNotRecorded = errors.New("content is already public but was not recorded; do not resubmit")

	// ErrSubmissionInProgress is returned when an earlier request with the
	// same idempotency key has not produced a post yet.
	ErrSubmissionInProgress = errors.New("a submission with this idempotency key is still in progress")

	// ErrCorruptRecord signals a stored row that breaks the post or user
	// invariants. The operation is aborted.
	ErrCorruptRecord = errors.New("corrupt record")
)

// Validation and authorization errors.
var (
	// ErrForbidden is returned when the actor lacks the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidTier is returned for an unknown tier, or for granting free.
	ErrInvalidTier = errors.New("invalid tier")

	// ErrInvalidDuration is returned for a day count outside 1..MaxGrantDays.
	ErrInvalidDuration = errors.New("duration must be between 1 and 36500 days")

	// ErrOwnerImmutable is returned when revoking admin rights from the owner.
	ErrOwnerImmutable = errors.New("owner role cannot be changed")

	// ErrEmptyContent is returned for a submission with neither text nor media.
	ErrEmptyContent = errors.New("content is empty")

	// ErrInvalidContentType is returned for an unknown content type tag, or
	// a media type with no media reference.
	ErrInvalidContentType = errors.New("invalid content type")

	// ErrInvalidTrust is returned for an unknown trust label.
	ErrInvalidTrust = errors.New("invalid trust label")

	// ErrInvalidChannel is returned for an empty channel address.
	ErrInvalidChannel = errors.New("invalid channel address")
)
