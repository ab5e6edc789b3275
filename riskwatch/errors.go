package riskwatch

import "errors"

// ErrConfigMissing is returned by a scan when no operator configuration has
// been saved or the saved one cannot be decoded.
var ErrConfigMissing = errors.New("riskwatch: configuration not found")

// ErrConfigInvalid is returned when a configuration fails validation.
var ErrConfigInvalid = errors.New("riskwatch: invalid configuration")

// ErrPersistence wraps failures to write alerts, stats or reports.
var ErrPersistence = errors.New("riskwatch: persistence failure")

// ErrScanInProgress is returned when a caller gave up waiting for the
// running scan to finish.
var ErrScanInProgress = errors.New("riskwatch: scan already in progress")

// ErrNoArchive is returned by SearchAlerts when the archive is disabled.
var ErrNoArchive = errors.New("riskwatch: archive disabled")
