package onvif

import (
	"context"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

const actionGetDeviceInformation = "http://www.onvif.org/ver10/device/wsdl/GetDeviceInformation"

// GetDeviceInformation fetches manufacturer, model and firmware details
func (c *Client) GetDeviceInformation(ctx context.Context) (DeviceInfo, error) {
	resp, err := c.transport.Post(ctx, c.Address.DeviceServiceURL(),
		etree.NewElement("tds:GetDeviceInformation"), SOAP12, actionGetDeviceInformation)
	if err != nil {
		return DeviceInfo{}, errors.Annotate(err, "failed to get device information")
	}
	if authErr := resp.AuthError(); authErr != nil {
		return DeviceInfo{}, authErr
	}
	if reason, ok := resp.Fault(); ok {
		return DeviceInfo{}, errors.Errorf("SOAP fault: %s", reason)
	}

	var info DeviceInfo
	fields := []struct {
		name string
		dst  *string
	}{
		{"Manufacturer", &info.Manufacturer},
		{"Model", &info.Model},
		{"FirmwareVersion", &info.FirmwareVersion},
		{"SerialNumber", &info.SerialNumber},
		{"HardwareId", &info.HardwareId},
	}
	for _, f := range fields {
		// Missing fields are common on budget firmware; leave them empty.
		if v, err := FindText(resp.Body, "GetDeviceInformationResponse", f.name); err == nil {
			*f.dst = v
		}
	}

	if info.Manufacturer == "" && info.Model == "" {
		return info, errors.NotFoundf("device information in response")
	}
	return info, nil
}

// DisplayName returns the best available name for the device
func (info DeviceInfo) DisplayName() string {
	switch {
	case info.Manufacturer != "" && info.Model != "":
		return info.Manufacturer + " " + info.Model
	case info.Model != "":
		return info.Model
	default:
		return info.Manufacturer
	}
}
