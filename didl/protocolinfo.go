package didl

import (
	"fmt"
	"strings"

	"github.com/rosschurchill/upnpav"
)

// ProtocolInfo is the four-field delivery descriptor attached to every
// resource: protocol, network, content format (MIME type) and additional
// info (DLNA flags). Each field may be the wildcard "*".
type ProtocolInfo struct {
	Protocol       string
	Network        string
	ContentFormat  string
	AdditionalInfo string
}

// ParseProtocolInfo parses the wire form "protocol:network:format:additional".
func ParseProtocolInfo(s string) (ProtocolInfo, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 {
		return ProtocolInfo{}, &upnpav.ParseError{Element: "protocolInfo", Detail: fmt.Sprintf("expected 4 fields, got %q", s)}
	}
	return ProtocolInfo{
		Protocol:       parts[0],
		Network:        parts[1],
		ContentFormat:  parts[2],
		AdditionalInfo: parts[3],
	}, nil
}

func (p ProtocolInfo) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", p.Protocol, p.Network, p.ContentFormat, p.AdditionalInfo)
}

// IsValid reports whether all four fields are present.
func (p ProtocolInfo) IsValid() bool {
	return p.Protocol != "" && p.Network != "" && p.ContentFormat != "" && p.AdditionalInfo != ""
}

// IsCompatibleWith reports whether a source described by p can be delivered
// to a sink accepting q: protocol and content format must match exactly or
// via the "*" wildcard on either side.
func (p ProtocolInfo) IsCompatibleWith(q ProtocolInfo) bool {
	return fieldMatches(p.Protocol, q.Protocol) && fieldMatches(p.ContentFormat, q.ContentFormat)
}

func fieldMatches(a, b string) bool {
	return a == "*" || b == "*" || strings.EqualFold(a, b)
}
