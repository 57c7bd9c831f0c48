// Package avtransport is the typed client for the AVTransport:1 service.
package avtransport

import (
	"errors"
	"fmt"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/client"
)

// Action is the closed set of AVTransport:1 actions.
type Action int

const (
	SetAVTransportURI Action = iota
	SetNextAVTransportURI
	GetMediaInfo
	GetTransportInfo
	GetPositionInfo
	GetDeviceCapabilities
	GetTransportSettings
	Stop
	Play
	Pause
	Record
	Seek
	Next
	Previous
	GetCurrentTransportActions
)

var actionNames = map[Action]string{
	SetAVTransportURI:          "SetAVTransportURI",
	SetNextAVTransportURI:      "SetNextAVTransportURI",
	GetMediaInfo:               "GetMediaInfo",
	GetTransportInfo:           "GetTransportInfo",
	GetPositionInfo:            "GetPositionInfo",
	GetDeviceCapabilities:      "GetDeviceCapabilities",
	GetTransportSettings:       "GetTransportSettings",
	Stop:                       "Stop",
	Play:                       "Play",
	Pause:                      "Pause",
	Record:                     "Record",
	Seek:                       "Seek",
	Next:                       "Next",
	Previous:                   "Previous",
	GetCurrentTransportActions: "GetCurrentTransportActions",
}

// ActionFromString maps a wire name back to its Action.
func ActionFromString(name string) (Action, bool) {
	for action, n := range actionNames {
		if n == name {
			return action, true
		}
	}
	return 0, false
}

// Variable is the closed set of evented AVTransport state variables.
type Variable int

const (
	TransportState Variable = iota
	TransportStatus
	PlaybackStorageMedium
	CurrentTrack
	CurrentTrackDuration
	CurrentMediaDuration
	CurrentTrackMetaData
	CurrentTrackURI
	AVTransportURI
	AVTransportURIMetaData
	NextAVTransportURI
	NextAVTransportURIMetaData
	CurrentTransportActions
)

var variableNames = map[Variable]string{
	TransportState:             "TransportState",
	TransportStatus:            "TransportStatus",
	PlaybackStorageMedium:      "PlaybackStorageMedium",
	CurrentTrack:               "CurrentTrack",
	CurrentTrackDuration:       "CurrentTrackDuration",
	CurrentMediaDuration:       "CurrentMediaDuration",
	CurrentTrackMetaData:       "CurrentTrackMetaData",
	CurrentTrackURI:            "CurrentTrackURI",
	AVTransportURI:             "AVTransportURI",
	AVTransportURIMetaData:     "AVTransportURIMetaData",
	NextAVTransportURI:         "NextAVTransportURI",
	NextAVTransportURIMetaData: "NextAVTransportURIMetaData",
	CurrentTransportActions:    "CurrentTransportActions",
}

// State is a transport state as reported by the device.
type State string

const (
	StateStopped         State = "STOPPED"
	StatePlaying         State = "PLAYING"
	StateTransitioning   State = "TRANSITIONING"
	StatePausedPlayback  State = "PAUSED_PLAYBACK"
	StatePausedRecording State = "PAUSED_RECORDING"
	StateRecording       State = "RECORDING"
	StateNoMediaPresent  State = "NO_MEDIA_PRESENT"
)

// SeekMode selects how a Seek target is interpreted. The target itself is an
// opaque string validated by the device.
type SeekMode string

const (
	SeekTrackNr SeekMode = "TRACK_NR"
	SeekRelTime SeekMode = "REL_TIME"
	SeekAbsTime SeekMode = "ABS_TIME"
)

// AVTransport error codes, mapped from SOAP faults.
var (
	ErrTransitionNotAvailable = errors.New("transition not available")
	ErrNoContents             = errors.New("no contents")
	ErrReadError              = errors.New("read error")
	ErrFormatNotSupported     = errors.New("format not supported for playback")
	ErrTransportLocked        = errors.New("transport is locked")
	ErrWriteError             = errors.New("write error")
	ErrProtectedContent       = errors.New("content is protected")
	ErrFormatMismatch         = errors.New("format mismatch")
	ErrSeekModeUnsupported    = errors.New("seek mode not supported")
	ErrIllegalSeekTarget      = errors.New("illegal seek target")
	ErrIllegalMIMEType        = errors.New("illegal MIME type")
	ErrContentBusy            = errors.New("content busy")
	ErrResourceNotFound       = errors.New("resource not found")
	ErrPlaySpeedNotSupported  = errors.New("play speed not supported")
	ErrInvalidInstanceID      = errors.New("invalid AVTransport instance id")
)

var errorMap = map[int]error{
	701: ErrTransitionNotAvailable,
	702: ErrNoContents,
	703: ErrReadError,
	704: ErrFormatNotSupported,
	705: ErrTransportLocked,
	706: ErrWriteError,
	707: ErrProtectedContent,
	708: ErrFormatMismatch,
	710: ErrSeekModeUnsupported,
	711: ErrIllegalSeekTarget,
	714: ErrIllegalMIMEType,
	715: ErrContentBusy,
	716: ErrResourceNotFound,
	717: ErrPlaySpeedNotSupported,
	718: ErrInvalidInstanceID,
}

func mapError(upnpErr *upnpav.UPnPError) error {
	if mapped, ok := errorMap[upnpErr.Code]; ok {
		return fmt.Errorf("%w: %w", mapped, upnpErr)
	}
	return upnpErr
}

func traits() client.Traits[Action, Variable] {
	return client.Traits[Action, Variable]{
		Kind:          upnpav.ServiceAVTransport,
		ActionNames:   actionNames,
		VariableNames: variableNames,
		MapError:      mapError,
	}
}
