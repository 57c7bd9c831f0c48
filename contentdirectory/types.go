// Package contentdirectory is the typed client for the ContentDirectory:1
// service: capability queries, Browse and Search.
package contentdirectory

import (
	"errors"
	"fmt"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/didl"
)

// Action is the closed set of ContentDirectory:1 actions.
type Action int

const (
	GetSearchCapabilities Action = iota
	GetSortCapabilities
	GetSystemUpdateID
	Browse
	Search
)

var actionNames = map[Action]string{
	GetSearchCapabilities: "GetSearchCapabilities",
	GetSortCapabilities:   "GetSortCapabilities",
	GetSystemUpdateID:     "GetSystemUpdateID",
	Browse:                "Browse",
	Search:                "Search",
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

// Variable is the closed set of evented ContentDirectory state variables.
type Variable int

const (
	TransferIDs Variable = iota
	SystemUpdateID
	ContainerUpdateIDs
)

var variableNames = map[Variable]string{
	TransferIDs:        "TransferIDs",
	SystemUpdateID:     "SystemUpdateID",
	ContainerUpdateIDs: "ContainerUpdateIDs",
}

// BrowseType selects which object kinds a directory listing yields.
type BrowseType int

const (
	All BrowseType = iota
	ContainersOnly
	ItemsOnly
)

// ActionResult is the outcome of one Browse or Search call. NumberReturned
// is the server-reported page size from the wire; Items may be shorter when
// a kind filter applied or malformed objects were skipped. Paging must
// advance by NumberReturned, not len(Items).
type ActionResult struct {
	NumberReturned uint32
	TotalMatches   uint32
	UpdateID       uint32
	Items          []*didl.Item
}

// ContentDirectory error codes, mapped from SOAP faults.
var (
	ErrNoSuchObject          = errors.New("no such object")
	ErrInvalidCurrentTag     = errors.New("invalid CurrentTagValue")
	ErrInvalidNewTag         = errors.New("invalid NewTagValue")
	ErrRequiredTag           = errors.New("required tag missing")
	ErrReadOnlyTag           = errors.New("read-only tag")
	ErrParameterMismatch     = errors.New("parameter mismatch")
	ErrInvalidSearchCriteria = errors.New("invalid search criteria")
	ErrInvalidSortCriteria   = errors.New("invalid sort criteria")
	ErrNoSuchContainer       = errors.New("no such container")
	ErrRestrictedObject      = errors.New("restricted object")
	ErrBadMetadata           = errors.New("bad metadata")
	ErrRestrictedParent      = errors.New("restricted parent object")
	ErrNoSuchSourceResource  = errors.New("no such source resource")
	ErrResourceAccessDenied  = errors.New("source resource access denied")
	ErrTransferBusy          = errors.New("transfer busy")
	ErrNoSuchFileTransfer    = errors.New("no such file transfer")
	ErrNoSuchDestResource    = errors.New("no such destination resource")
	ErrDestAccessDenied      = errors.New("destination resource access denied")
	ErrCannotProcess         = errors.New("cannot process the request")
)

var errorMap = map[int]error{
	701: ErrNoSuchObject,
	702: ErrInvalidCurrentTag,
	703: ErrInvalidNewTag,
	704: ErrRequiredTag,
	705: ErrReadOnlyTag,
	706: ErrParameterMismatch,
	708: ErrInvalidSearchCriteria,
	709: ErrInvalidSortCriteria,
	710: ErrNoSuchContainer,
	711: ErrRestrictedObject,
	712: ErrBadMetadata,
	713: ErrRestrictedParent,
	714: ErrNoSuchSourceResource,
	715: ErrResourceAccessDenied,
	716: ErrTransferBusy,
	717: ErrNoSuchFileTransfer,
	718: ErrNoSuchDestResource,
	719: ErrDestAccessDenied,
	720: ErrCannotProcess,
}

func mapError(upnpErr *upnpav.UPnPError) error {
	if mapped, ok := errorMap[upnpErr.Code]; ok {
		return fmt.Errorf("%w: %w", mapped, upnpErr)
	}
	return upnpErr
}
