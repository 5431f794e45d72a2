package onvif

import (
	"github.com/beevik/etree"
	"github.com/juju/errors"
)

const (
	soap12NS = "http://www.w3.org/2003/05/soap-envelope"
	soap11NS = "http://schemas.xmlsoap.org/soap/envelope/"

	deviceNS = "http://www.onvif.org/ver10/device/wsdl"
	mediaNS  = "http://www.onvif.org/ver10/media/wsdl"
	ptzNS    = "http://www.onvif.org/ver20/ptz/wsdl"
	schemaNS = "http://www.onvif.org/ver10/schema"
)

// operation namespaces declared on every envelope
var envelopeNamespaces = [][2]string{
	{"tds", deviceNS},
	{"trt", mediaNS},
	{"tptz", ptzNS},
	{"tt", schemaNS},
}

// Envelope is a SOAP envelope with explicit header and body slots
type Envelope struct {
	doc    *etree.Document
	header *etree.Element
	body   *etree.Element
}

// NewEnvelope creates an empty envelope for the given SOAP version
func NewEnvelope(version SOAPVersion) *Envelope {
	ns := soap12NS
	if version == SOAP11 {
		ns = soap11NS
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("s:Envelope")
	root.CreateAttr("xmlns:s", ns)
	for _, n := range envelopeNamespaces {
		root.CreateAttr("xmlns:"+n[0], n[1])
	}

	return &Envelope{
		doc:    doc,
		header: root.CreateElement("s:Header"),
		body:   root.CreateElement("s:Body"),
	}
}

// AddHeader appends a header block
func (e *Envelope) AddHeader(el *etree.Element) {
	if el != nil {
		e.header.AddChild(el)
	}
}

// SetBody replaces the body payload
func (e *Envelope) SetBody(el *etree.Element) {
	for _, c := range e.body.ChildElements() {
		e.body.RemoveChild(c)
	}
	if el != nil {
		e.body.AddChild(el)
	}
}

// Bytes serializes the envelope
func (e *Envelope) Bytes() ([]byte, error) {
	b, err := e.doc.WriteToBytes()
	return b, errors.Trace(err)
}
