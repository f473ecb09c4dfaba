package utils

import (
	"time"
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Messaging constants
const (
	// DefaultSMSMaxLength is the maximum rendered SMS length in characters
	DefaultSMSMaxLength = 160

	// DefaultPreviewSampleSize is the number of rendered messages returned by audience previews
	DefaultPreviewSampleSize = 5

	// DefaultClaimTimeout is how long an in-flight dispatch claim is honored before it may be retaken
	DefaultClaimTimeout = 10 * time.Minute

	// DefaultPageSize is used by list endpoints when the client omits page_size
	DefaultPageSize = 20

	// MaxPageSize caps list endpoints
	MaxPageSize = 100
)

