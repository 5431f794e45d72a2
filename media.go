package onvif

import (
	"context"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

const (
	actionGetProfiles  = "http://www.onvif.org/ver10/media/wsdl/GetProfiles"
	actionGetStreamUri = "http://www.onvif.org/ver10/media/wsdl/GetStreamUri"
)

// FetchProfile returns the first media profile the device reports
func (c *Client) FetchProfile(ctx context.Context, mediaURL string) (MediaProfile, error) {
	const op = "GetProfiles"

	resp, err := c.transport.Post(ctx, mediaURL, etree.NewElement("trt:GetProfiles"), SOAP11, actionGetProfiles)
	if err != nil {
		return MediaProfile{}, &ResolutionError{Op: op, Reason: ReasonNoToken, Err: err}
	}
	if authErr := resp.AuthError(); authErr != nil {
		return MediaProfile{}, &ResolutionError{Op: op, Reason: ReasonNoToken, Err: authErr}
	}

	token, err := FindAttr(resp.Body, "Profiles", "token")
	if err != nil || token == "" {
		if reason, ok := resp.Fault(); ok {
			err = errors.Errorf("SOAP fault: %s", reason)
		} else if err == nil {
			err = errors.NotFoundf("token attribute on <Profiles>")
		}
		return MediaProfile{}, &ResolutionError{Op: op, Reason: ReasonNoToken, Err: err}
	}

	c.logger.Debug().Str("token", token).Msg("resolved media profile")
	return MediaProfile{Token: token}, nil
}

// GetStreamUri retrieves the RTSP stream URI for a given profile token
func (c *Client) GetStreamUri(ctx context.Context, mediaURL, profileToken string) (string, error) {
	req := etree.NewElement("trt:GetStreamUri")
	setup := req.CreateElement("trt:StreamSetup")
	setup.CreateElement("tt:Stream").SetText("RTP-Unicast")
	setup.CreateElement("tt:Transport").CreateElement("tt:Protocol").SetText("RTSP")
	req.CreateElement("trt:ProfileToken").SetText(profileToken)

	resp, err := c.transport.Post(ctx, mediaURL, req, SOAP11, actionGetStreamUri)
	if err != nil {
		return "", errors.Annotate(err, "failed to get stream URI")
	}
	if authErr := resp.AuthError(); authErr != nil {
		return "", authErr
	}
	if reason, ok := resp.Fault(); ok {
		return "", errors.Errorf("SOAP fault: %s", reason)
	}

	uri, err := FindText(resp.Body, "MediaUri", "Uri")
	if err != nil || uri == "" {
		return "", errors.NotFoundf("stream URI in response")
	}
	return uri, nil
}
