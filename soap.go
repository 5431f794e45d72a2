package onvif

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/beevik/etree"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

const maxResponseSize = 4 << 20

// Response is the raw reply of a device. Any HTTP status is returned as
// data; callers decide what the body means.
type Response struct {
	StatusCode int
	Body       []byte
}

// AuthError classifies 401 and 403 replies, nil otherwise
func (r *Response) AuthError() error {
	switch r.StatusCode {
	case http.StatusUnauthorized:
		return errors.Unauthorizedf("device rejected credentials (HTTP %d)", r.StatusCode)
	case http.StatusForbidden:
		return errors.Forbiddenf("device refused the operation (HTTP %d)", r.StatusCode)
	}
	return nil
}

// Fault returns the SOAP Fault reason carried by the body, if any
func (r *Response) Fault() (string, bool) {
	return parseSOAPFault(r.Body)
}

// Summary returns the body with whitespace collapsed, cut to n runes
func (r *Response) Summary(n int) string {
	s := strings.Join(strings.Fields(string(r.Body)), " ")
	if utf8.RuneCountInString(s) > n {
		s = string([]rune(s)[:n]) + "..."
	}
	return s
}

// Transport posts SOAP envelopes to a device with its credentials attached
type Transport struct {
	Username string
	Password string

	client *http.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewTransport creates a transport with the given request timeout
func NewTransport(username, password string, timeout time.Duration, logger zerolog.Logger) *Transport {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Transport{
		Username: username,
		Password: password,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		now:      time.Now,
	}
}

func (t *Transport) hasBasicCredentials() bool {
	return strings.TrimSpace(t.Username) != "" && strings.TrimSpace(t.Password) != ""
}

// Post wraps body in an envelope of the given version, signs it with a
// WS-Security header and sends it to url. action is required for SOAP 1.1
// and ignored for SOAP 1.2.
func (t *Transport) Post(ctx context.Context, url string, body *etree.Element, version SOAPVersion, action string) (*Response, error) {
	security, err := BuildSecurityHeader(t.Username, t.Password, t.now())
	if err != nil {
		return nil, errors.Trace(err)
	}

	env := NewEnvelope(version)
	env.AddHeader(security)
	env.SetBody(body)
	payload, err := env.Bytes()
	if err != nil {
		return nil, errors.Annotate(err, "serialize envelope")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}

	switch version {
	case SOAP11:
		if action == "" {
			return nil, errors.NotValidf("SOAP 1.1 request to %s without SOAPAction", url)
		}
		req.Header.Set("Content-Type", "text/xml; charset=utf-8")
		req.Header.Set("SOAPAction", fmt.Sprintf("%q", action))
	default:
		req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	}

	if t.hasBasicCredentials() {
		req.SetBasicAuth(t.Username, t.Password)
	}
	// Camera firmware does not handle keep-alive reliably.
	req.Close = true
	req.Header.Set("Connection", "close")

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn().Err(err).Str("url", url).Msg("SOAP request failed")
		return nil, &TransportError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		t.logger.Warn().Err(err).Str("url", url).Int("status", resp.StatusCode).Msg("reading SOAP response failed")
		return nil, &TransportError{URL: url, Err: err}
	}

	t.logger.Debug().
		Str("url", url).
		Stringer("soap", version).
		Int("status", resp.StatusCode).
		Int("bytes", len(respBody)).
		Dur("took", time.Since(start)).
		Msg("SOAP exchange")

	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}
