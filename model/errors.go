package model

import "errors"

// ErrorKind classifies failures surfaced to the presentation layer.
type ErrorKind string

const (
	KindUnreadableFile    ErrorKind = "UnreadableFile"
	KindUnsupportedFormat ErrorKind = "UnsupportedFormat"
	KindDeviceUnavailable ErrorKind = "DeviceUnavailable"
	KindNotLoaded         ErrorKind = "NotLoaded"
	KindCatalogIO         ErrorKind = "CatalogIOError"
	KindFileMissing       ErrorKind = "FileMissing"
	KindUnknown           ErrorKind = "Unknown"
)

var (
	ErrUnreadableFile    = errors.New("audio file does not exist or is not readable")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrDeviceUnavailable = errors.New("audio output device unavailable")
	ErrNotLoaded         = errors.New("no track loaded")
	ErrCatalogIO         = errors.New("catalog i/o error")
	ErrFileMissing       = errors.New("track file no longer exists")
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrPlaylistEmpty     = errors.New("playlist is empty")
)

// KindOf maps an error chain to its kind. Unrecognised errors are KindUnknown.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFileMissing):
		return KindFileMissing
	case errors.Is(err, ErrUnreadableFile):
		return KindUnreadableFile
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ErrDeviceUnavailable):
		return KindDeviceUnavailable
	case errors.Is(err, ErrNotLoaded):
		return KindNotLoaded
	case errors.Is(err, ErrCatalogIO):
		return KindCatalogIO
	default:
		return KindUnknown
	}
}
