// Package onvif provides an ONVIF PTZ control client for IP cameras
package onvif

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"time"
)

// SOAPVersion selects the envelope namespace and HTTP framing of a request
type SOAPVersion int

const (
	SOAP12 SOAPVersion = iota
	SOAP11
)

func (v SOAPVersion) String() string {
	if v == SOAP11 {
		return "SOAP 1.1"
	}
	return "SOAP 1.2"
}

// DeviceAddress is the address and credentials used to reach a camera
type DeviceAddress struct {
	Scheme   string // "http" when empty
	Host     string
	Port     int
	Username string
	Password string
}

// HostPort returns the authority used for every request to the device
func (a DeviceAddress) HostPort() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// BaseURL returns scheme://host:port
func (a DeviceAddress) BaseURL() string {
	scheme := a.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + a.HostPort()
}

// DeviceServiceURL returns the well-known device service address
func (a DeviceAddress) DeviceServiceURL() string {
	return a.BaseURL() + DeviceServicePath
}

func (a DeviceAddress) String() string {
	return a.HostPort()
}

// ServiceEndpoints holds the rewritten Media and PTZ service URLs
type ServiceEndpoints struct {
	MediaURL string
	PTZURL   string
}

// MediaProfile identifies the media profile PTZ commands are addressed to
type MediaProfile struct {
	Token string
}

// MoveVector is a normalized velocity in VelocityGenericSpace
type MoveVector struct {
	Pan  float64
	Tilt float64
	Zoom float64
}

var (
	VectorLeft    = MoveVector{Pan: -1}
	VectorRight   = MoveVector{Pan: 1}
	VectorUp      = MoveVector{Tilt: 1}
	VectorDown    = MoveVector{Tilt: -1}
	VectorZoomIn  = MoveVector{Zoom: 1}
	VectorZoomOut = MoveVector{Zoom: -1}
)

// Validate checks that every component lies in [-1, 1]
func (v MoveVector) Validate() error {
	for _, c := range []struct {
		name  string
		value float64
	}{{"pan", v.Pan}, {"tilt", v.Tilt}, {"zoom", v.Zoom}} {
		if math.IsNaN(c.value) || c.value < -1 || c.value > 1 {
			return fmt.Errorf("%s velocity %v out of range [-1, 1]", c.name, c.value)
		}
	}
	return nil
}

func (v MoveVector) String() string {
	return fmt.Sprintf("(%s, %s, %s)", formatFloat(v.Pan), formatFloat(v.Tilt), formatFloat(v.Zoom))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// DeviceInfo is the subset of GetDeviceInformation the client reports
type DeviceInfo struct {
	Manufacturer    string
	Model           string
	FirmwareVersion string
	SerialNumber    string
	HardwareId      string
}

// DiscoveryOptions provides options for camera discovery
type DiscoveryOptions struct {
	Timeout       time.Duration
	MulticastAddr string
}

const (
	DeviceServicePath = "/onvif/device_service"
	MediaServicePath  = "/onvif/media_service"
	PTZServicePath    = "/onvif/ptz_service"

	VelocityGenericSpace = "http://www.onvif.org/ver10/tptz/PanTiltSpaces/VelocityGenericSpace"

	DefaultStopDelay        = 1000 * time.Millisecond
	DefaultTimeout          = 10 * time.Second
	DefaultMulticastAddr    = "239.255.255.250:3702"
	DefaultDiscoveryTimeout = 5 * time.Second
)
