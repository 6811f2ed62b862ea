package kg

import "errors"

var (
	ErrArtifactNotFound        = errors.New("artifact not found")
	ErrArtifactVersionMismatch = errors.New("artifact version mismatch")

	ErrRunNotFound       = errors.New("run not found")
	ErrRunLeaseConflict  = errors.New("run lease conflict")
	ErrResetNotConfirmed = errors.New("graph reset requires explicit confirmation")

	ErrGraphStoreNotConfigured = errors.New("graph store is not configured")
	ErrExtractorNotConfigured  = errors.New("entity extractor is not configured")
)
