package torrent

import "errors"

var (
	// ErrValidation wraps every reason Load rejects a torrent file.
	ErrValidation = errors.New("invalid torrent")
	// ErrAlreadyLoaded is returned by Load for a torrent that is loaded.
	ErrAlreadyLoaded = errors.New("torrent already loaded")
	// ErrNotLoaded is returned for operations on a torrent that is not loaded.
	ErrNotLoaded = errors.New("torrent not loaded")
)
