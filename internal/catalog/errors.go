package catalog

import "errors"

var (
	ErrCredentialMissing = errors.New("catalog: credential missing")
	ErrDeviceNotReady    = errors.New("catalog: device not ready")
	ErrNotFound          = errors.New("catalog: not found")
	ErrUnauthorized      = errors.New("catalog: unauthorized")
	ErrRateLimited       = errors.New("catalog: rate limited")
	ErrTemporary         = errors.New("catalog: temporary failure")
	ErrQueueDesync       = errors.New("catalog: queue persistence out of sync")
)

func IsCredentialMissing(err error) bool { return errors.Is(err, ErrCredentialMissing) }
func IsDeviceNotReady(err error) bool    { return errors.Is(err, ErrDeviceNotReady) }
func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsUnauthorized(err error) bool      { return errors.Is(err, ErrUnauthorized) }
func IsRateLimited(err error) bool       { return errors.Is(err, ErrRateLimited) }
func IsTemporary(err error) bool         { return errors.Is(err, ErrTemporary) }
func IsQueueDesync(err error) bool       { return errors.Is(err, ErrQueueDesync) }
