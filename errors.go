package upnpav

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned when Abort was invoked on a paged operation.
	ErrCancelled = errors.New("operation cancelled")

	// ErrNoSuchDevice is returned when a UDN is not in the scanner's map.
	ErrNoSuchDevice = errors.New("device not found")

	// ErrNoSuchService is returned when a client is bound to a device that
	// does not offer the requested service.
	ErrNoSuchService = errors.New("service not offered by device")

	// ErrNotSubscribed is returned by operations that need a live event
	// subscription when none exists.
	ErrNotSubscribed = errors.New("not subscribed")

	// ErrActionNotSupported is returned when an action is not in the
	// service's parsed supported-actions set.
	ErrActionNotSupported = errors.New("action not supported by service")

	// ErrUnsupportedSort is returned when a sort property is not in the
	// server's SortCaps.
	ErrUnsupportedSort = errors.New("unsupported sort property")

	// ErrUnsupportedSearch is returned when a search property is not in the
	// server's SearchCaps.
	ErrUnsupportedSearch = errors.New("unsupported search property")
)

// UPnPError is a SOAP fault carrying the device's numeric UPnP error code.
// Service clients translate well-known codes to their own named errors and
// wrap this value, so both errors.Is(err, contentdirectory.ErrNoSuchObject)
// and errors.As(err, &upnpErr) work on the result.
type UPnPError struct {
	Code        int
	Description string
}

func (e *UPnPError) Error() string {
	return fmt.Sprintf("UPnP error %d: %s", e.Code, e.Description)
}

// HTTPError is a non-2xx response that did not carry a UPnP fault body.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP status %d", e.StatusCode)
}

// ParseError reports malformed XML or DIDL-Lite content.
type ParseError struct {
	Element string
	Detail  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %s", e.Element, e.Detail)
}
