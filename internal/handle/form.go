package handle

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/AgentOS/scriptd/internal/memory"
	"github.com/GriffinCanCode/AgentOS/scriptd/internal/shared/errs"
)

// Field is one form entry. Value is a string, []byte or *memory.Buffer.
type Field struct {
	Name        string
	Value       any
	Filename    string
	ContentType string
}

// FormEncoder streams multipart/form-data one field at a time. Its
// position is held on the encoder, so abandoning it mid-stream needs no
// cleanup.
type FormEncoder struct {
	fields   []Field
	cursor   int
	out      bytes.Buffer
	writer   *multipart.Writer
	finished bool
}

// NewFormEncoder creates an encoder with a random boundary
func NewFormEncoder() *FormEncoder {
	f := &FormEncoder{}
	f.writer = multipart.NewWriter(&f.out)
	// SetBoundary only fails on invalid characters; hex digits are valid
	_ = f.writer.SetBoundary("----FormBoundary" + strings.ReplaceAll(uuid.NewString(), "-", ""))
	return f
}

// Boundary returns the multipart boundary
func (f *FormEncoder) Boundary() string { return f.writer.Boundary() }

// ContentType returns the header value for the encoded body
func (f *FormEncoder) ContentType() string { return f.writer.FormDataContentType() }

// Len returns the number of appended fields
func (f *FormEncoder) Len() int { return len(f.fields) }

// Append adds a field. Buffer values are read when the field is encoded,
// not when it is appended.
func (f *FormEncoder) Append(field Field) error {
	if f.finished {
		return errs.New(errs.KindClosed, "FormData.append", "form has already been fully encoded")
	}
	switch field.Value.(type) {
	case string, []byte, *memory.Buffer:
	default:
		return errs.TypeMismatch("FormData.append",
			`The "value" argument must be of type string, Buffer or Uint8Array. Received %T`, field.Value)
	}
	f.fields = append(f.fields, field)
	return nil
}

// Next returns the encoding of the next field. After the last field it
// returns the closing boundary, then false.
func (f *FormEncoder) Next() ([]byte, bool, error) {
	if f.finished {
		return nil, false, nil
	}

	if f.cursor >= len(f.fields) {
		if err := f.writer.Close(); err != nil {
			return nil, false, errs.InternalFault("FormData.next", err)
		}
		f.finished = true
		return f.take(), true, nil
	}

	field := f.fields[f.cursor]
	if err := f.writeField(field); err != nil {
		return nil, false, err
	}
	f.cursor++
	return f.take(), true, nil
}

// Encode drains the remaining stream into one body
func (f *FormEncoder) Encode() ([]byte, error) {
	var body bytes.Buffer
	for {
		chunk, ok, err := f.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return body.Bytes(), nil
		}
		body.Write(chunk)
	}
}

func (f *FormEncoder) take() []byte {
	chunk := bytes.Clone(f.out.Bytes())
	f.out.Reset()
	return chunk
}

func (f *FormEncoder) writeField(field Field) error {
	header := make(textproto.MIMEHeader)
	disposition := fmt.Sprintf(`form-data; name="%s"`, quoteEscaper.Replace(field.Name))
	contentType := field.ContentType

	if field.Filename != "" {
		disposition += fmt.Sprintf(`; filename="%s"`, quoteEscaper.Replace(field.Filename))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
	}
	header.Set("Content-Disposition", disposition)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}

	part, err := f.writer.CreatePart(header)
	if err != nil {
		return errs.InternalFault("FormData.next", err)
	}

	switch v := field.Value.(type) {
	case string:
		_, err = part.Write([]byte(v))
	case []byte:
		_, err = part.Write(v)
	case *memory.Buffer:
		if viewErr := v.View(func(p []byte) { _, err = part.Write(p) }); viewErr != nil {
			return viewErr
		}
	}
	if err != nil {
		return errs.InternalFault("FormData.next", err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")
