package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/customeros/exchangestack/internal/exchange/request"
	"github.com/customeros/exchangestack/internal/exchange/transcode"
)

const (
	ProtocolEWS = "ews"
	ProtocolOWA = "owa"
)

type codec interface {
	protocol() string
	encode(baseURL string, req request.Request) (target string, body []byte, header http.Header, err error)
	// decode handles a 200 response.
	decode(req request.Request, target string, resp *Response) (any, error)
	// failure builds the error for any other non-authentication status.
	failure(req request.Request, resp *Response) error
}

type ewsCodec struct {
	serverVersion string
}

func (ewsCodec) protocol() string { return ProtocolEWS }

func (c ewsCodec) encode(baseURL string, req request.Request) (string, []byte, http.Header, error) {
	soapHeader := transcode.New(
		"t$RequestServerVersion", transcode.New("Version", c.serverVersion),
		"t$TimeZoneContext", transcode.New("t$TimeZoneDefinition", transcode.New("Id", "UTC")),
	)
	body, err := transcode.EncodeEnvelope(soapHeader, req.Wire())
	if err != nil {
		return "", nil, nil, err
	}
	header := http.Header{}
	header.Set("Content-Type", "text/xml; charset=utf-8")
	header.Set("Accept", "text/xml")
	return baseURL, body, header, nil
}

func (ewsCodec) decode(req request.Request, _ string, resp *Response) (any, error) {
	return DecodeResponseMessage(req.Action(), resp.Data)
}

// DecodeResponseMessage parses a SOAP response and returns the decoded
// first entry of its ResponseMessages. Several entries with the same name
// come back as a []any. An error response class becomes a FaultError.
func DecodeResponseMessage(action string, data []byte) (any, error) {
	doc, err := transcode.ParseDocument(data)
	if err != nil {
		return nil, &TransportError{
			Action:       action,
			Status:       http.StatusOK,
			Code:         "InvalidResponse",
			Message:      err.Error(),
			ResponseText: string(data),
		}
	}
	messages := transcode.FindElement(doc.Root(), "ResponseMessages")
	if messages == nil || len(messages.ChildElements()) == 0 {
		return nil, &TransportError{
			Action:       action,
			Status:       http.StatusOK,
			Code:         "InvalidResponse",
			Message:      "response carries no response messages",
			ResponseText: string(data),
		}
	}

	first := messages.ChildElements()[0].Tag
	decoded, _ := transcode.Decode(messages).(map[string]any)
	message := decoded[first]
	if m, ok := message.(map[string]any); ok {
		if fault := faultFromMessage(action, m); fault != nil {
			return nil, fault
		}
	}
	return message, nil
}

func faultFromMessage(action string, m map[string]any) *FaultError {
	if transcode.GetString(m, "ResponseClass") != "Error" {
		return nil
	}
	fault := &FaultError{
		Action:  action,
		Code:    transcode.GetString(m, "ResponseCode"),
		Message: transcode.GetString(m, "MessageText"),
	}
	values := transcode.EnsureArray(transcode.Get(m, "MessageXml", "Value"))
	if len(values) > 0 {
		fault.Detail = make(map[string]string, len(values))
		for _, v := range values {
			name := strings.TrimPrefix(transcode.GetString(v, "Name"), "InnerError")
			fault.Detail[name] = transcode.String(v)
		}
	}
	return fault
}

func (ewsCodec) failure(req request.Request, resp *Response) error {
	e := &TransportError{
		Action:       req.Action(),
		Status:       resp.Status,
		StatusText:   resp.StatusText,
		Code:         fmt.Sprintf("HTTP %d", resp.Status),
		Message:      resp.StatusText,
		ResponseText: string(resp.Data),
	}
	doc, err := transcode.ParseDocument(resp.Data)
	if err != nil {
		return e
	}
	root := doc.Root()
	if el := transcode.FindElement(root, "faultstring"); el != nil {
		e.Message = el.Text()
	}
	if el := transcode.FindElement(root, "Message"); el != nil {
		e.Message = el.Text()
	}
	if el := transcode.FindElementWithAttr(root, "ResponseClass", "Error"); el != nil {
		if text := transcode.FindElement(el, "MessageText"); text != nil {
			e.Message = text.Text()
		}
		if code := transcode.FindElement(el, "ResponseCode"); code != nil {
			e.Code = code.Text()
		}
	}
	if el := transcode.FindElementWithAttr(root, "Name", "InnerErrorMessageText"); el != nil {
		e.Message = el.Text()
	}
	if el := transcode.FindElement(root, "ResponseCode"); el != nil && strings.HasPrefix(e.Code, "HTTP ") {
		e.Code = el.Text()
	}
	if el := transcode.FindElementWithAttr(root, "Name", "InnerErrorResponseCode"); el != nil {
		e.Code = el.Text()
	}
	if el := transcode.FindElement(root, "MessageXml"); el != nil {
		e.Detail = transcode.Decode(el)
	} else {
		e.Detail = transcode.Decode(root)
	}
	return e
}

type owaCodec struct {
	cookies CookieSource
}

func (owaCodec) protocol() string { return ProtocolOWA }

func (c owaCodec) encode(baseURL string, req request.Request) (string, []byte, http.Header, error) {
	action := req.Action()
	target := baseURL + "service.svc?action=" + url.QueryEscape(action)
	if e, ok := req.(request.Endpointer); ok && e.Endpoint() != "" {
		target = baseURL + e.Endpoint()
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json; charset=utf-8")
	header.Set("Action", action)
	header.Set("X-Requested-With", "XMLHttpRequest")
	if c.cookies != nil {
		if canary := c.cookies.Cookie(baseURL, "X-OWA-CANARY"); canary != "" {
			header.Set("X-OWA-CANARY", canary)
		}
	}

	wire := req.Wire()
	if wire == nil {
		return target, nil, header, nil
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return "", nil, nil, errors.Wrap(err, "encoding JSON request")
	}
	return target, body, header, nil
}

func (owaCodec) decode(req request.Request, target string, resp *Response) (any, error) {
	var result any
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		if strings.Contains(resp.ContentType(), "text/html") && resp.URL != "" && resp.URL != target {
			return nil, &LoginError{Message: "OWA session expired, please log in again"}
		}
		return nil, &TransportError{
			Action:       req.Action(),
			Status:       resp.Status,
			StatusText:   resp.StatusText,
			Code:         "InvalidResponse",
			Message:      "response is not JSON",
			ResponseText: string(resp.Data),
		}
	}

	if body, ok := transcode.Get(result, "Body").(map[string]any); ok {
		result = body
	}
	if items := transcode.EnsureArray(transcode.Get(result, "ResponseMessages", "Items")); len(items) == 1 {
		result = items[0]
	}
	if transcode.GetString(result, "ResponseClass") == "Error" {
		return nil, &FaultError{
			Action:  req.Action(),
			Code:    transcode.GetString(result, "ResponseCode"),
			Message: transcode.GetString(result, "MessageText"),
		}
	}
	return result, nil
}

func (owaCodec) failure(req request.Request, resp *Response) error {
	e := &TransportError{
		Action:     req.Action(),
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Code:       fmt.Sprintf("HTTP %d", resp.Status),
		Message:    fmt.Sprintf("HTTP %d %s", resp.Status, resp.StatusText),
	}
	var parsed any
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		e.ResponseText = string(resp.Data)
		return e
	}
	if body := transcode.Get(parsed, "Body"); body != nil {
		parsed = body
	}
	e.Detail = parsed
	if fault := transcode.GetString(parsed, "FaultMessage"); fault != "" {
		e.Message = fault
	}
	if items := transcode.EnsureArray(transcode.Get(parsed, "ResponseMessages", "Items")); len(items) > 0 {
		if text := transcode.GetString(items[0], "MessageText"); text != "" {
			e.Message = text
		}
		if code := transcode.GetString(items[0], "ResponseCode"); code != "" {
			e.Code = code
		}
	}
	return e
}
