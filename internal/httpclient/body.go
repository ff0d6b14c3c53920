package httpclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
)

// Body serializes a request payload.
type Body interface {
	encode() (io.Reader, string, error)
}

// JSONBody sends Value encoded as JSON.
type JSONBody struct {
	Value any
}

func (b JSONBody) encode() (io.Reader, string, error) {
	payload, err := json.Marshal(b.Value)
	if err != nil {
		return nil, "", fmt.Errorf("httpclient: encode json body: %w", err)
	}
	return bytes.NewReader(payload), "application/json", nil
}

// Field is one plain multipart form value.
type Field struct {
	Name  string
	Value string
}

// File is one multipart file part.
type File struct {
	Field       string
	Filename    string
	ContentType string
	Content     []byte
}

// MultipartBody sends fields then files as multipart/form-data, each in
// declaration order.
type MultipartBody struct {
	Fields []Field
	Files  []File
}

func (b MultipartBody) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range b.Fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, "", fmt.Errorf("httpclient: write field %s: %w", f.Name, err)
		}
	}
	for _, f := range b.Files {
		part, err := w.CreatePart(fileHeader(f))
		if err != nil {
			return nil, "", fmt.Errorf("httpclient: create part %s: %w", f.Field, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, "", fmt.Errorf("httpclient: write part %s: %w", f.Field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("httpclient: close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func fileHeader(f File) textproto.MIMEHeader {
	filename := f.Filename
	if filename == "" {
		filename = f.Field
	}
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(f.Field), quoteEscaper.Replace(filename)))
	h.Set("Content-Type", contentType)
	return h
}
