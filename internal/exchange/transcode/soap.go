package transcode

import (
	"github.com/beevik/etree"
	"github.com/pkg/errors"
)

// SOAPNamespaces are the prefixes every EWS envelope binds at its root.
var SOAPNamespaces = map[string]string{
	"s": NamespaceSOAP,
	"m": NamespaceMessages,
	"t": NamespaceTypes,
}

// EncodeEnvelope wraps header and body into a SOAP envelope.
func EncodeEnvelope(header, body any) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := doc.CreateElement("s:Envelope")

	enc := NewEncoder(SOAPNamespaces)
	enc.Bind(root)
	if err := enc.Encode(root, header, "s:Header"); err != nil {
		return nil, errors.Wrap(err, "encoding SOAP header")
	}
	if err := enc.Encode(root, body, "s:Body"); err != nil {
		return nil, errors.Wrap(err, "encoding SOAP body")
	}
	return doc.WriteToBytes()
}
