package soap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rosschurchill/upnpav"
	"github.com/rosschurchill/upnpav/conf"
	"github.com/rosschurchill/upnpav/log"
)

const (
	defaultActionTimeout = 30 * time.Second
	defaultFetchTimeout  = 10 * time.Second
)

// Client is the HTTP collaborator: descriptor GETs, SOAP action POSTs and
// the GENA subscription verbs. One Client is shared by all service clients
// bound to the same control point.
type Client struct {
	http *http.Client
}

// NewClient returns a client using the configured action timeout.
func NewClient() *Client {
	timeout := conf.Server.Client.ActionTimeout
	if timeout == 0 {
		timeout = defaultActionTimeout
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// Get fetches an arbitrary URL, used for device descriptors and SCPDs.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	timeout := conf.Server.Scanner.FetchTimeout
	if timeout == 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &upnpav.HTTPError{StatusCode: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

// SendAction posts the action's SOAP envelope to its control URL and returns
// the inner response document. SOAP faults come back as *upnpav.UPnPError.
func (c *Client) SendAction(ctx context.Context, action *Action) ([]byte, error) {
	envelope := action.Envelope()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action.URL, bytes.NewReader(envelope))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf("%q", action.SOAPAction()))

	log.Trace(ctx, "SOAP request", "url", action.URL, "action", action.Name)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		if upnpErr := ParseFault(respBody); upnpErr != nil {
			log.Debug(ctx, "SOAP fault received", "action", action.Name,
				"code", upnpErr.Code, "description", upnpErr.Description)
			return nil, upnpErr
		}
		return nil, &upnpav.HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return UnwrapResponse(respBody)
}

// Subscribe sends a GENA SUBSCRIBE and returns the SID and granted timeout
// in seconds. The device is authoritative for the granted value.
func (c *Client) Subscribe(ctx context.Context, eventURL, callbackURL string, timeoutSeconds int) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", eventURL, nil)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("CALLBACK", fmt.Sprintf("<%s>", callbackURL))
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeoutSeconds))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", 0, &upnpav.HTTPError{StatusCode: resp.StatusCode}
	}
	sid := resp.Header.Get("SID")
	if sid == "" {
		return "", 0, &upnpav.ParseError{Element: "SID", Detail: "missing SID header in SUBSCRIBE response"}
	}
	granted := parseTimeoutHeader(resp.Header.Get("TIMEOUT"), timeoutSeconds)
	return sid, granted, nil
}

// Renew sends a GENA SUBSCRIBE with an existing SID and returns the newly
// granted timeout in seconds.
func (c *Client) Renew(ctx context.Context, eventURL, sid string, timeoutSeconds int) (int, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", eventURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeoutSeconds))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return 0, &upnpav.HTTPError{StatusCode: resp.StatusCode}
	}
	return parseTimeoutHeader(resp.Header.Get("TIMEOUT"), timeoutSeconds), nil
}

// Unsubscribe sends a GENA UNSUBSCRIBE for the SID.
func (c *Client) Unsubscribe(ctx context.Context, eventURL, sid string) error {
	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", eventURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("SID", sid)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &upnpav.HTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}

// parseTimeoutHeader parses "Second-1801". "infinite" and malformed values
// fall back to the requested timeout.
func parseTimeoutHeader(value string, requested int) int {
	value = strings.TrimSpace(strings.ToLower(value))
	if seconds, ok := strings.CutPrefix(value, "second-"); ok {
		if n, err := strconv.Atoi(seconds); err == nil && n > 0 {
			return n
		}
	}
	return requested
}
