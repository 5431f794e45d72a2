package onvif

import (
	"time"

	"github.com/rs/zerolog"
)

// Client issues ONVIF requests to a single device
type Client struct {
	Address DeviceAddress

	transport *Transport
	logger    zerolog.Logger
}

// NewClient creates a new ONVIF client for a device
func NewClient(addr DeviceAddress) *Client {
	return NewClientWithTimeout(addr, DefaultTimeout)
}

// NewClientWithTimeout creates a new ONVIF client with a custom request timeout
func NewClientWithTimeout(addr DeviceAddress, timeout time.Duration) *Client {
	logger := zerolog.Nop()
	return &Client{
		Address:   addr,
		transport: NewTransport(addr.Username, addr.Password, timeout, logger),
		logger:    logger,
	}
}

// SetLogger replaces the client's logger; requests are logged at debug level
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger.With().Str("device", c.Address.HostPort()).Logger()
	c.transport.logger = c.logger
}

// Transport returns the underlying SOAP transport
func (c *Client) Transport() *Transport {
	return c.transport
}
