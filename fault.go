package onvif

import (
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"
)

// parseSOAPFault extracts a readable reason from a SOAP 1.1 or 1.2 Fault.
// ok is false when the body holds no Fault.
func parseSOAPFault(body []byte) (reason string, ok bool) {
	if len(body) == 0 || !strings.Contains(string(body), "Fault") {
		return "", false
	}

	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	doc.ReadSettings.Permissive = true
	if err := doc.ReadFromBytes(body); err != nil {
		return "", false
	}

	fault := doc.FindElement("//Fault")
	if fault == nil {
		return "", false
	}

	// SOAP 1.2: Reason/Text, SOAP 1.1: faultstring
	for _, path := range []string{"./Reason/Text", "./faultstring"} {
		if el := fault.FindElement(path); el != nil {
			if text := strings.TrimSpace(el.Text()); text != "" {
				reason = text
				break
			}
		}
	}

	// The subcode carries the ONVIF-specific cause (e.g. ter:NotAuthorized)
	if el := fault.FindElement("./Code/Subcode/Value"); el != nil {
		if sub := strings.TrimSpace(el.Text()); sub != "" {
			if reason == "" {
				reason = sub
			} else {
				reason += " (" + sub + ")"
			}
		}
	}

	if reason == "" {
		reason = "unknown SOAP fault"
	}
	return reason, true
}
