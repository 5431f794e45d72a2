package onvif

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const capabilitiesPrefixed = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="http://www.onvif.org/ver10/device/wsdl" xmlns:tt="http://www.onvif.org/ver10/schema">
  <SOAP-ENV:Body>
    <tds:GetCapabilitiesResponse>
      <tds:Capabilities>
        <tt:Device><tt:XAddr>http://192.168.1.5/onvif/device_service</tt:XAddr></tt:Device>
        <tt:Media><tt:XAddr> http://192.168.1.5/onvif/Media </tt:XAddr></tt:Media>
        <tt:PTZ><tt:XAddr>http://192.168.1.5/onvif/PTZ</tt:XAddr></tt:PTZ>
      </tds:Capabilities>
    </tds:GetCapabilitiesResponse>
  </SOAP-ENV:Body>
</SOAP-ENV:Envelope>`

const capabilitiesBare = `<Envelope xmlns="http://www.w3.org/2003/05/soap-envelope"><Body>
<GetCapabilitiesResponse xmlns="http://www.onvif.org/ver10/device/wsdl"><Capabilities>
<Media xmlns="http://www.onvif.org/ver10/schema"><XAddr>http://10.0.0.2/media</XAddr></Media>
<PTZ xmlns="http://www.onvif.org/ver10/schema"><XAddr>http://10.0.0.2/ptz</XAddr></PTZ>
</Capabilities></GetCapabilitiesResponse></Body></Envelope>`

func TestFindText(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path []string
		want string
	}{
		{"prefixed media", capabilitiesPrefixed, []string{"Media", "XAddr"}, "http://192.168.1.5/onvif/Media"},
		{"prefixed ptz", capabilitiesPrefixed, []string{"PTZ", "XAddr"}, "http://192.168.1.5/onvif/PTZ"},
		{"first match wins", capabilitiesPrefixed, []string{"XAddr"}, "http://192.168.1.5/onvif/device_service"},
		{"deep ancestors", capabilitiesPrefixed, []string{"Envelope", "Capabilities", "PTZ", "XAddr"}, "http://192.168.1.5/onvif/PTZ"},
		{"default namespace", capabilitiesBare, []string{"PTZ", "XAddr"}, "http://10.0.0.2/ptz"},
		{"other prefix", `<a:Root xmlns:a="urn:a" xmlns:b="urn:b"><b:Media><a:XAddr>x</a:XAddr></b:Media></a:Root>`, []string{"Media", "XAddr"}, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindText([]byte(tt.doc), tt.path...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindTextNotFound(t *testing.T) {
	_, err := FindText([]byte(capabilitiesPrefixed), "Imaging", "XAddr")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotFound))

	// XAddr exists, but not below an Events element.
	_, err = FindText([]byte(capabilitiesPrefixed), "Events", "XAddr")
	assert.True(t, errors.Is(err, errors.NotFound))

	_, err = FindText([]byte(""), "XAddr")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestFindTextMalformed(t *testing.T) {
	docs := []string{
		`<Envelope><Body><Media>`,
		`<Envelope><Media><XAddr>http://x</Media></Envelope>`,
		`not xml at all <<<`,
	}
	for _, doc := range docs {
		_, err := FindText([]byte(doc), "Media", "XAddr")
		require.Error(t, err, doc)

		var perr *ParseError
		assert.ErrorAs(t, err, &perr, doc)
		assert.True(t, errors.Is(err, errors.NotFound), doc)
	}
}

func TestFindTextEmptyPath(t *testing.T) {
	_, err := FindText([]byte(capabilitiesPrefixed))
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestFindAttr(t *testing.T) {
	doc := []byte(`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Body>
<trt:GetProfilesResponse xmlns:trt="http://www.onvif.org/ver10/media/wsdl">
<trt:Profiles fixed="true" token="Prof_1"><tt:Name xmlns:tt="http://www.onvif.org/ver10/schema">main</tt:Name></trt:Profiles>
<trt:Profiles token="Prof_2"/>
</trt:GetProfilesResponse></s:Body></s:Envelope>`)

	token, err := FindAttr(doc, "Profiles", "token")
	require.NoError(t, err)
	assert.Equal(t, "Prof_1", token)

	_, err = FindAttr(doc, "Profiles", "encoding")
	assert.True(t, errors.Is(err, errors.NotFound))

	_, err = FindAttr(doc, "Configurations", "token")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestFindAttrFirstOccurrenceOnly(t *testing.T) {
	doc := []byte(`<r><Profiles fixed="true"/><Profiles token="late"/></r>`)
	_, err := FindAttr(doc, "Profiles", "token")
	assert.True(t, errors.Is(err, errors.NotFound))
}

func TestFindTextCharset(t *testing.T) {
	doc := []byte("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><r><Name>C\xe1mara</Name></r>")
	got, err := FindText(doc, "Name")
	require.NoError(t, err)
	assert.Equal(t, "Cámara", got)
}
