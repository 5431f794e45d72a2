package onvif

import (
	"context"
	"encoding/xml"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/juju/errors"
)

const probeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Envelope xmlns="http://www.w3.org/2003/05/soap-envelope"
          xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing"
          xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery"
          xmlns:dn="http://www.onvif.org/ver10/network/wsdl">
    <Header>
        <a:Action>http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</a:Action>
        <a:MessageID>urn:uuid:%s</a:MessageID>
        <a:To>urn:schemas-xmlsoap-org:ws:2005:04:discovery</a:To>
    </Header>
    <Body>
        <d:Probe>
            <d:Types>dn:NetworkVideoTransmitter</d:Types>
        </d:Probe>
    </Body>
</Envelope>`

// Discovery response structures
type probeEnvelope struct {
	XMLName xml.Name  `xml:"Envelope"`
	Body    probeBody `xml:"Body"`
}

type probeBody struct {
	ProbeMatches struct {
		ProbeMatch []probeMatch `xml:"ProbeMatch"`
	} `xml:"ProbeMatches"`
}

type probeMatch struct {
	EndpointReference struct {
		Address string `xml:"Address"`
	} `xml:"EndpointReference"`
	Types  string `xml:"Types"`
	Scopes string `xml:"Scopes"`
	XAddrs string `xml:"XAddrs"`
}

// DiscoveredCamera is a device that answered a WS-Discovery probe
type DiscoveredCamera struct {
	Name     string
	Model    string
	Location string
	URN      string
	XAddrs   []string
}

// Address builds the DeviceAddress of the camera's first advertised
// device service, with the given credentials.
func (d DiscoveredCamera) Address(username, password string) (DeviceAddress, error) {
	if len(d.XAddrs) == 0 {
		return DeviceAddress{}, errors.NotFoundf("device service address for %s", d.URN)
	}
	u, err := url.Parse(d.XAddrs[0])
	if err != nil {
		return DeviceAddress{}, errors.Trace(err)
	}
	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return DeviceAddress{}, errors.NotValidf("port %q", p)
		}
	}
	return DeviceAddress{
		Scheme:   u.Scheme,
		Host:     u.Hostname(),
		Port:     port,
		Username: username,
		Password: password,
	}, nil
}

// DisplayName returns the best available name for the camera
func (d DiscoveredCamera) DisplayName() string {
	switch {
	case d.Name != "":
		return d.Name
	case d.Model != "":
		return d.Model
	case len(d.XAddrs) > 0:
		return d.XAddrs[0]
	}
	return d.URN
}

func buildProbe() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", errors.Annotate(err, "generate probe message id")
	}
	return fmt.Sprintf(probeTemplate, id.String()), nil
}

// DiscoverCameras multicasts a WS-Discovery probe and collects the
// cameras that answer before the timeout. If ctx ends first, the cameras
// found so far are returned together with the context error.
func DiscoverCameras(ctx context.Context, options *DiscoveryOptions) ([]DiscoveredCamera, error) {
	if options == nil {
		options = &DiscoveryOptions{}
	}
	multicastAddr := options.MulticastAddr
	if multicastAddr == "" {
		multicastAddr = DefaultMulticastAddr
	}
	timeout := options.Timeout
	if timeout == 0 {
		timeout = DefaultDiscoveryTimeout
	}

	addr, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return nil, errors.Annotate(err, "failed to resolve multicast address")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, errors.Annotate(err, "failed to create UDP connection")
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Annotate(err, "failed to set read deadline")
	}

	probe, err := buildProbe()
	if err != nil {
		return nil, err
	}
	if _, err := conn.WriteToUDP([]byte(probe), addr); err != nil {
		return nil, errors.Annotate(err, "failed to send probe message")
	}

	// Unblock the read loop on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	var cameras []DiscoveredCamera
	buffer := make([]byte, 65536)
	for {
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			continue
		}
		cameras = append(cameras, parseProbeMatches(buffer[:n])...)
	}

	// Answers gathered before cancellation are still returned.
	if err := ctx.Err(); err != nil {
		return deduplicateCameras(cameras), errors.Annotate(err, "discovery interrupted")
	}
	return deduplicateCameras(cameras), nil
}

func parseProbeMatches(packet []byte) []DiscoveredCamera {
	var env probeEnvelope
	if err := xml.Unmarshal(packet, &env); err != nil {
		return nil
	}

	var cameras []DiscoveredCamera
	for _, match := range env.Body.ProbeMatches.ProbeMatch {
		xaddrs := strings.Fields(match.XAddrs)
		if len(xaddrs) == 0 {
			continue
		}
		name, location, model := parseScopes(match.Scopes)
		cameras = append(cameras, DiscoveredCamera{
			Name:     name,
			Model:    model,
			Location: location,
			URN:      strings.TrimSpace(match.EndpointReference.Address),
			XAddrs:   xaddrs,
		})
	}
	return cameras
}

func parseScopes(scopes string) (name, location, model string) {
	for _, scope := range strings.Fields(scopes) {
		switch {
		case strings.HasPrefix(scope, "onvif://www.onvif.org/name/"):
			name = scopeValue(scope, "onvif://www.onvif.org/name/")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/location/"):
			location = scopeValue(scope, "onvif://www.onvif.org/location/")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/hardware/"):
			model = scopeValue(scope, "onvif://www.onvif.org/hardware/")
		}
	}
	return
}

func scopeValue(scope, prefix string) string {
	v := strings.TrimPrefix(scope, prefix)
	if unescaped, err := url.PathUnescape(v); err == nil {
		v = unescaped
	}
	return strings.ReplaceAll(v, "_", " ")
}

// deduplicateCameras merges answers from the same device, keyed by URN or
// first address, and sorts the result by address.
func deduplicateCameras(cameras []DiscoveredCamera) []DiscoveredCamera {
	seen := make(map[string]int)
	var unique []DiscoveredCamera

	for _, camera := range cameras {
		key := camera.URN
		if key == "" {
			key = camera.XAddrs[0]
		}
		if i, ok := seen[key]; ok {
			unique[i].XAddrs = mergeAddresses(unique[i].XAddrs, camera.XAddrs)
			continue
		}
		seen[key] = len(unique)
		unique = append(unique, camera)
	}

	sort.Slice(unique, func(i, j int) bool { return unique[i].XAddrs[0] < unique[j].XAddrs[0] })
	return unique
}

func mergeAddresses(base, next []string) []string {
	for _, a := range next {
		found := false
		for _, b := range base {
			if a == b {
				found = true
				break
			}
		}
		if !found {
			base = append(base, a)
		}
	}
	return base
}

// getFirstAddress extracts the first address if multiple are provided
func getFirstAddress(address string) string {
	addresses := strings.Fields(address)
	if len(addresses) > 0 {
		return addresses[0]
	}
	return address
}
