package domain

import "errors"

var (
	ErrMalformedURL             = errors.New("could not extract video ID from URL")
	ErrMetadataFetchFailed      = errors.New("metadata fetch failed")
	ErrMissingPlaybackReference = errors.New("no playlist field in API response")
	ErrPlaylistFetchFailed      = errors.New("playlist fetch failed")
	ErrEmptyPlaylist            = errors.New("variant playlist is empty")
	ErrSegmentTransferFailed    = errors.New("segment transfer failed")
	ErrConversionFailed         = errors.New("conversion failed")
	ErrProvisioningFailed       = errors.New("ffmpeg provisioning failed")
)
