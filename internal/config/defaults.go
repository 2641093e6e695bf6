package config

import "time"

const (
	// Rate limits
	DefaultMessagesPerMinute     = 15
	DefaultMessagesPerHour       = 300
	DefaultConnectionsPerMinute  = 10
	DefaultMaxConnectionsPerUser = 3

	// Message bounds
	DefaultMaxMessageLength = 300  // characters
	DefaultMaxMessageSize   = 1000 // bytes

	// Session lifecycle
	DefaultMaxIdleMinutes       = 30
	DefaultAutoCloseMinutes     = 60
	DefaultWarningRepeatMinutes = 10

	// Matching
	DefaultMatchMinScore           = 0.0
	DefaultMatchWaitTimeoutMinutes = 10

	// Retention
	DefaultRetentionMonths  = 3
	DefaultRetentionPurgeAt = "03:00"
	DefaultHistoryPageLimit = 50
	MaxHistoryPageLimit     = 100
	DefaultJobTimeout       = 5 * time.Minute
)
