package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Request describes a call against the backend. At most one of JSON and
// Multipart is set.
type Request struct {
	Method    string
	Path      string
	Query     url.Values
	JSON      any
	Multipart *Multipart
	Header    http.Header
	// Anonymous requests carry no bearer token and their 401s are returned
	// as-is, e.g. a login with bad credentials.
	Anonymous bool
}

// Multipart is a form-data body. Fields keep their insertion order.
type Multipart struct {
	fields []field
	files  []filePart
}

type field struct {
	name, value string
}

type filePart struct {
	field, filename, contentType string
	body                         io.Reader
}

func NewMultipart() *Multipart {
	return &Multipart{}
}

func (m *Multipart) Field(name, value string) *Multipart {
	m.fields = append(m.fields, field{name: name, value: value})
	return m
}

func (m *Multipart) File(fieldName, filename, contentType string, body io.Reader) *Multipart {
	m.files = append(m.files, filePart{field: fieldName, filename: filename, contentType: contentType, body: body})
	return m
}

func (m *Multipart) encode() ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, f := range m.fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f.name, err)
		}
	}

	for _, f := range m.files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(f.field), escapeQuotes(f.filename)))
		ct := f.contentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create part %s: %w", f.field, err)
		}
		if _, err := io.Copy(part, f.body); err != nil {
			return nil, "", fmt.Errorf("failed to copy %s: %w", f.filename, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// pendingRequest is a Request with its body encoded once so it can be sent
// again after a refresh.
type pendingRequest struct {
	req         *Request
	requestID   string
	body        []byte
	contentType string
	multipart   bool

	// retried is set when this request has consumed its refresh-and-replay.
	retried bool
	// sentToken is the access token attached on the last send, empty when
	// no Authorization header went out.
	sentToken string
	// foreign is set when the target is outside the base URL.
	foreign bool
	// token overrides the stored access token on the next send.
	token string
}

func newPending(req *Request) (*pendingRequest, error) {
	p := &pendingRequest{
		req:       req,
		requestID: uuid.NewString(),
	}

	switch {
	case req.JSON != nil && req.Multipart != nil:
		return nil, fmt.Errorf("request %s %s has both JSON and multipart bodies", req.Method, req.Path)
	case req.Multipart != nil:
		body, ct, err := req.Multipart.encode()
		if err != nil {
			return nil, err
		}
		p.body, p.contentType, p.multipart = body, ct, true
	case req.JSON != nil:
		body, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		p.body, p.contentType = body, "application/json"
	}

	return p, nil
}
