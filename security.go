package onvif

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"time"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

const (
	wsseNS         = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	wsuNS          = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	passwordDigest = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	base64Binary   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"

	createdLayout = "2006-01-02T15:04:05Z"
	nonceSize     = 16
)

// nonceSource is swapped in tests to make headers reproducible
var nonceSource io.Reader = rand.Reader

// PasswordDigest computes base64(SHA1(nonce + created + password)).
//
// The hash runs over the raw nonce bytes, not the base64 text, which is
// what the cameras this client targets accept.
func PasswordDigest(nonce []byte, created, password string) string {
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// BuildSecurityHeader creates a WS-Security UsernameToken block for the
// given credentials, timestamped with now.
func BuildSecurityHeader(username, password string, now time.Time) (*etree.Element, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(nonceSource, nonce); err != nil {
		return nil, errors.Annotate(err, "generate nonce")
	}
	created := now.UTC().Format(createdLayout)

	security := etree.NewElement("wsse:Security")
	security.CreateAttr("xmlns:wsse", wsseNS)
	security.CreateAttr("xmlns:wsu", wsuNS)

	token := security.CreateElement("wsse:UsernameToken")
	token.CreateElement("wsse:Username").SetText(username)

	pw := token.CreateElement("wsse:Password")
	pw.CreateAttr("Type", passwordDigest)
	pw.SetText(PasswordDigest(nonce, created, password))

	n := token.CreateElement("wsse:Nonce")
	n.CreateAttr("EncodingType", base64Binary)
	n.SetText(base64.StdEncoding.EncodeToString(nonce))

	token.CreateElement("wsu:Created").SetText(created)
	return security, nil
}
