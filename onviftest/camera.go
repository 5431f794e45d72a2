// Package onviftest provides a fake ONVIF camera for tests
package onviftest

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Operations recognized by the fake camera
const (
	OpGetCapabilities      = "GetCapabilities"
	OpGetProfiles          = "GetProfiles"
	OpGetStreamUri         = "GetStreamUri"
	OpGetDeviceInformation = "GetDeviceInformation"
	OpContinuousMove       = "ContinuousMove"
	OpStop                 = "Stop"
)

var operations = []string{
	OpGetCapabilities,
	OpGetProfiles,
	OpGetStreamUri,
	OpGetDeviceInformation,
	OpContinuousMove,
	OpStop,
}

// Reply is a canned HTTP response
type Reply struct {
	Status int
	Body   string
}

// Request is a recorded call
type Request struct {
	Op     string
	Path   string
	Header http.Header
	Body   string
}

// Camera is an httptest server answering ONVIF requests with canned replies
type Camera struct {
	Server *httptest.Server

	mu       sync.Mutex
	replies  map[string]Reply
	gates    map[string]*gate
	held     []*gate
	requests []Request
	applied  []string
}

type gate struct {
	ch     chan struct{}
	once   bool
	opened sync.Once
}

func (g *gate) open() {
	g.opened.Do(func() { close(g.ch) })
}

// NewCamera starts a fake camera advertising its services on internalHost,
// the way cameras behind NAT report their LAN address.
func NewCamera(internalHost, profileToken string) *Camera {
	c := &Camera{
		replies: map[string]Reply{
			OpGetCapabilities:      {Status: http.StatusOK, Body: CapabilitiesResponse("http://"+internalHost+"/onvif/media", "http://"+internalHost+"/onvif/ptz")},
			OpGetProfiles:          {Status: http.StatusOK, Body: ProfilesResponse(profileToken)},
			OpGetStreamUri:         {Status: http.StatusOK, Body: StreamUriResponse("rtsp://" + internalHost + ":554/stream1")},
			OpGetDeviceInformation: {Status: http.StatusOK, Body: DeviceInformationResponse("Acme", "PTZ-2000")},
			OpContinuousMove:       {Status: http.StatusOK, Body: Envelope(`<tptz:ContinuousMoveResponse/>`)},
			OpStop:                 {Status: http.StatusOK, Body: Envelope(`<tptz:StopResponse/>`)},
		},
		gates: make(map[string]*gate),
	}
	c.Server = httptest.NewServer(http.HandlerFunc(c.serveHTTP))
	return c
}

// Close shuts the server down, releasing any held requests
func (c *Camera) Close() {
	c.mu.Lock()
	for _, g := range c.held {
		g.open()
	}
	c.held = nil
	c.gates = make(map[string]*gate)
	c.mu.Unlock()
	c.Server.Close()
}

// Host returns the host the server listens on
func (c *Camera) Host() string {
	host, _, _ := net.SplitHostPort(c.Server.Listener.Addr().String())
	return host
}

// Port returns the port the server listens on
func (c *Camera) Port() int {
	_, port, _ := net.SplitHostPort(c.Server.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// SetReply overrides the reply for op
func (c *Camera) SetReply(op string, r Reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies[op] = r
}

// Hold makes requests for op wait until the returned release func is called
func (c *Camera) Hold(op string) (release func()) {
	return c.hold(op, false)
}

// HoldNext holds only the next request for op; later ones are answered at
// once.
func (c *Camera) HoldNext(op string) (release func()) {
	return c.hold(op, true)
}

func (c *Camera) hold(op string, once bool) func() {
	g := &gate{ch: make(chan struct{}), once: once}
	c.mu.Lock()
	c.gates[op] = g
	c.held = append(c.held, g)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		if c.gates[op] == g {
			delete(c.gates, op)
		}
		c.mu.Unlock()
		g.open()
	}
}

// Requests returns a copy of all recorded requests
func (c *Camera) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.requests...)
}

// Applied returns the operations in the order their replies were sent,
// which is the order a real camera would act on them
func (c *Camera) Applied() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.applied...)
}

// Count returns how many requests for op were received
func (c *Camera) Count(op string) int {
	n := 0
	for _, r := range c.Requests() {
		if r.Op == op {
			n++
		}
	}
	return n
}

func (c *Camera) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	op := detectOp(string(body))

	c.mu.Lock()
	c.requests = append(c.requests, Request{Op: op, Path: r.URL.Path, Header: r.Header.Clone(), Body: string(body)})
	reply, ok := c.replies[op]
	g := c.gates[op]
	if g != nil && g.once {
		delete(c.gates, op)
	}
	c.mu.Unlock()

	if g != nil {
		select {
		case <-g.ch:
		case <-r.Context().Done():
			return
		}
	}

	c.mu.Lock()
	c.applied = append(c.applied, op)
	c.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/soap+xml; charset=utf-8")
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	io.WriteString(w, reply.Body)
}

func detectOp(body string) string {
	for _, op := range operations {
		if strings.Contains(body, ":"+op+">") || strings.Contains(body, ":"+op+"/>") || strings.Contains(body, ":"+op+" ") {
			return op
		}
	}
	return ""
}

// Envelope wraps body in a SOAP 1.2 envelope declaring the usual prefixes
func Envelope(body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope"` +
		` xmlns:tds="http://www.onvif.org/ver10/device/wsdl"` +
		` xmlns:trt="http://www.onvif.org/ver10/media/wsdl"` +
		` xmlns:tptz="http://www.onvif.org/ver20/ptz/wsdl"` +
		` xmlns:tt="http://www.onvif.org/ver10/schema">` +
		`<SOAP-ENV:Body>` + body + `</SOAP-ENV:Body></SOAP-ENV:Envelope>`
}

// CapabilitiesResponse builds a GetCapabilities reply
func CapabilitiesResponse(mediaXAddr, ptzXAddr string) string {
	return Envelope(fmt.Sprintf(`<tds:GetCapabilitiesResponse><tds:Capabilities>`+
		`<tt:Device><tt:XAddr>http://192.168.1.5/onvif/device_service</tt:XAddr></tt:Device>`+
		`<tt:Media><tt:XAddr>%s</tt:XAddr><tt:StreamingCapabilities RTPMulticast="false"/></tt:Media>`+
		`<tt:PTZ><tt:XAddr>%s</tt:XAddr></tt:PTZ>`+
		`</tds:Capabilities></tds:GetCapabilitiesResponse>`, mediaXAddr, ptzXAddr))
}

// ProfilesResponse builds a GetProfiles reply with one profile
func ProfilesResponse(token string) string {
	return Envelope(fmt.Sprintf(`<trt:GetProfilesResponse>`+
		`<trt:Profiles token="%s" fixed="true"><tt:Name>MainStream</tt:Name></trt:Profiles>`+
		`<trt:Profiles token="Prof_sub"><tt:Name>SubStream</tt:Name></trt:Profiles>`+
		`</trt:GetProfilesResponse>`, token))
}

// StreamUriResponse builds a GetStreamUri reply
func StreamUriResponse(uri string) string {
	return Envelope(fmt.Sprintf(`<trt:GetStreamUriResponse><trt:MediaUri>`+
		`<tt:Uri>%s</tt:Uri><tt:InvalidAfterConnect>false</tt:InvalidAfterConnect>`+
		`</trt:MediaUri></trt:GetStreamUriResponse>`, uri))
}

// DeviceInformationResponse builds a GetDeviceInformation reply
func DeviceInformationResponse(manufacturer, model string) string {
	return Envelope(fmt.Sprintf(`<tds:GetDeviceInformationResponse>`+
		`<tds:Manufacturer>%s</tds:Manufacturer><tds:Model>%s</tds:Model>`+
		`<tds:FirmwareVersion>1.2.3</tds:FirmwareVersion><tds:SerialNumber>SN0001</tds:SerialNumber>`+
		`<tds:HardwareId>HW1</tds:HardwareId>`+
		`</tds:GetDeviceInformationResponse>`, manufacturer, model))
}

// FaultResponse builds a SOAP 1.2 fault
func FaultResponse(subcode, reason string) string {
	return Envelope(fmt.Sprintf(`<SOAP-ENV:Fault><SOAP-ENV:Code><SOAP-ENV:Value>SOAP-ENV:Sender</SOAP-ENV:Value>`+
		`<SOAP-ENV:Subcode><SOAP-ENV:Value>%s</SOAP-ENV:Value></SOAP-ENV:Subcode></SOAP-ENV:Code>`+
		`<SOAP-ENV:Reason><SOAP-ENV:Text xml:lang="en">%s</SOAP-ENV:Text></SOAP-ENV:Reason></SOAP-ENV:Fault>`, subcode, reason))
}
