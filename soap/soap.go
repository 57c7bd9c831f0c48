// Package soap implements the SOAP 1.1 envelope shape used by UPnP control
// and the HTTP collaborator that posts actions and manages GENA
// subscriptions.
package soap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/rosschurchill/upnpav"
)

const (
	envelopeNS      = "http://schemas.xmlsoap.org/soap/envelope/"
	encodingStyle   = "http://schemas.xmlsoap.org/soap/encoding/"
	controlSchemaNS = "urn:schemas-upnp-org:control-1-0"
)

// Argument is one named action argument. Order is significant on the wire.
type Argument struct {
	Name  string
	Value string
}

// Action is a SOAP action addressed to a service's control URL.
type Action struct {
	Name       string
	ServiceURN string
	URL        string
	Arguments  []Argument
}

// NewAction creates an action for the given service.
func NewAction(name, serviceURN, controlURL string) *Action {
	return &Action{Name: name, ServiceURN: serviceURN, URL: controlURL}
}

// AddArgument appends an argument, preserving declaration order.
func (a *Action) AddArgument(name, value string) {
	a.Arguments = append(a.Arguments, Argument{Name: name, Value: value})
}

// SOAPAction returns the value of the SOAPACTION header, unquoted.
func (a *Action) SOAPAction() string {
	return fmt.Sprintf("%s#%s", a.ServiceURN, a.Name)
}

// Envelope renders the full SOAP 1.1 request body:
// s:Envelope > s:Body > u:<Name> with the arguments as children, in order.
func (a *Action) Envelope() []byte {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString(`<s:Envelope xmlns:s="` + envelopeNS + `" s:encodingStyle="` + encodingStyle + `">`)
	b.WriteString(`<s:Body>`)
	fmt.Fprintf(&b, `<u:%s xmlns:u="%s">`, a.Name, a.ServiceURN)
	for _, arg := range a.Arguments {
		fmt.Fprintf(&b, "<%s>", arg.Name)
		_ = xml.EscapeText(&b, []byte(arg.Value))
		fmt.Fprintf(&b, "</%s>", arg.Name)
	}
	fmt.Fprintf(&b, `</u:%s>`, a.Name)
	b.WriteString(`</s:Body>`)
	b.WriteString(`</s:Envelope>`)
	return b.Bytes()
}

// Envelope structures for the response side.

type envelope struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    body     `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
}

type body struct {
	Content []byte `xml:",innerxml"`
}

type fault struct {
	XMLName     xml.Name    `xml:"Fault"`
	FaultCode   string      `xml:"faultcode"`
	FaultString string      `xml:"faultstring"`
	Detail      faultDetail `xml:"detail"`
}

type faultDetail struct {
	UPnPError faultUPnPError `xml:"urn:schemas-upnp-org:control-1-0 UPnPError"`
}

type faultUPnPError struct {
	Code        int    `xml:"errorCode"`
	Description string `xml:"errorDescription"`
}

// UnwrapResponse strips the outer envelope and returns the inner
// <u:ActionNameResponse> document.
func UnwrapResponse(responseBody []byte) ([]byte, error) {
	var env envelope
	if err := xml.Unmarshal(responseBody, &env); err != nil {
		return nil, &upnpav.ParseError{Element: "s:Envelope", Detail: err.Error()}
	}
	content := bytes.TrimSpace(env.Body.Content)
	if len(content) == 0 {
		return nil, &upnpav.ParseError{Element: "s:Body", Detail: "empty body"}
	}
	return content, nil
}

// ParseFault extracts the UPnP error from a SOAP fault response. Returns nil
// when the body is not a fault or carries no UPnP error code.
func ParseFault(responseBody []byte) *upnpav.UPnPError {
	var env envelope
	if err := xml.Unmarshal(responseBody, &env); err != nil {
		return nil
	}
	var f fault
	if err := xml.Unmarshal(env.Body.Content, &f); err != nil {
		return nil
	}
	if f.Detail.UPnPError.Code == 0 {
		return nil
	}
	description := f.Detail.UPnPError.Description
	if description == "" {
		description = strings.TrimSpace(f.FaultString)
	}
	return &upnpav.UPnPError{Code: f.Detail.UPnPError.Code, Description: description}
}
