package onvif

import (
	"context"
	"net"
	"net/url"
	"strconv"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

const actionGetCapabilities = "http://www.onvif.org/ver10/device/wsdl/GetCapabilities"

func getCapabilitiesRequest() *etree.Element {
	req := etree.NewElement("tds:GetCapabilities")
	req.CreateElement("tds:Category").SetText("All")
	return req
}

// ResolveEndpoints asks the device for its capabilities and returns the
// Media and PTZ service URLs, rewritten to the address the client uses to
// reach the device.
func (c *Client) ResolveEndpoints(ctx context.Context) (ServiceEndpoints, error) {
	const op = "GetCapabilities"

	resp, err := c.transport.Post(ctx, c.Address.DeviceServiceURL(), getCapabilitiesRequest(), SOAP12, actionGetCapabilities)
	if err != nil {
		return ServiceEndpoints{}, &ResolutionError{Op: op, Reason: ReasonMissingService, Err: err}
	}
	if authErr := resp.AuthError(); authErr != nil {
		return ServiceEndpoints{}, &ResolutionError{Op: op, Reason: ReasonMissingService, Err: authErr}
	}
	if len(resp.Body) == 0 {
		return ServiceEndpoints{}, &ResolutionError{Op: op, Reason: ReasonMissingService, Err: errors.New("empty response")}
	}

	mediaXAddr, err := FindText(resp.Body, "Media", "XAddr")
	if err != nil || mediaXAddr == "" {
		return ServiceEndpoints{}, c.missingService(op, "Media", resp, err)
	}
	ptzXAddr, err := FindText(resp.Body, "PTZ", "XAddr")
	if err != nil || ptzXAddr == "" {
		return ServiceEndpoints{}, c.missingService(op, "PTZ", resp, err)
	}

	mediaXAddr, ptzXAddr = getFirstAddress(mediaXAddr), getFirstAddress(ptzXAddr)

	mediaURL, err := rewriteServiceURL(mediaXAddr, c.Address, MediaServicePath)
	if err != nil {
		return ServiceEndpoints{}, &ResolutionError{Op: op, Reason: ReasonMissingService, Err: errors.Annotate(err, "Media XAddr")}
	}
	ptzURL, err := rewriteServiceURL(ptzXAddr, c.Address, PTZServicePath)
	if err != nil {
		return ServiceEndpoints{}, &ResolutionError{Op: op, Reason: ReasonMissingService, Err: errors.Annotate(err, "PTZ XAddr")}
	}

	c.logger.Debug().
		Str("media_xaddr", mediaXAddr).
		Str("ptz_xaddr", ptzXAddr).
		Str("media_url", mediaURL).
		Str("ptz_url", ptzURL).
		Msg("rewrote service endpoints")

	return ServiceEndpoints{MediaURL: mediaURL, PTZURL: ptzURL}, nil
}

func (c *Client) missingService(op, service string, resp *Response, cause error) error {
	if reason, ok := resp.Fault(); ok {
		cause = errors.Errorf("SOAP fault: %s", reason)
	} else if cause == nil {
		cause = errors.NotFoundf("%s XAddr", service)
	} else {
		cause = errors.Annotatef(cause, "%s XAddr", service)
	}
	return &ResolutionError{Op: op, Reason: ReasonMissingService, Err: cause}
}

// RewriteAuthority replaces the host:port of raw with host and port,
// leaving scheme, path and query untouched.
func RewriteAuthority(raw, host string, port int) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Trace(err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.NotValidf("service address %q", raw)
	}
	u.Host = net.JoinHostPort(host, strconv.Itoa(port))
	return u.String(), nil
}

// rewriteServiceURL points an advertised XAddr at the connection address
// and forces the conventional service path.
func rewriteServiceURL(xaddr string, addr DeviceAddress, path string) (string, error) {
	rewritten, err := RewriteAuthority(xaddr, addr.Host, addr.Port)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(rewritten)
	if err != nil {
		return "", errors.Trace(err)
	}
	u.Path = path
	u.RawPath = ""
	return u.String(), nil
}
