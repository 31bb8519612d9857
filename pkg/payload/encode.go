package payload

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
)

// Encode renders b as an HTTP request body with the content type a browser
// would send for it. An absent body encodes as a nil reader.
func Encode(b Body) (io.Reader, string, error) {
	switch b.kind {
	case KindAbsent:
		return nil, "", nil
	case KindString:
		return strings.NewReader(b.str), "text/plain;charset=UTF-8", nil
	case KindURLValues:
		return strings.NewReader(b.values.Encode()), "application/x-www-form-urlencoded;charset=UTF-8", nil
	case KindForm:
		return encodeForm(b.form)
	case KindBytes:
		return bytes.NewReader(b.bytes), "", nil
	case KindBlob:
		if b.open == nil {
			return nil, "", fmt.Errorf("payload: blob has no source")
		}
		rc, err := b.open()
		if err != nil {
			return nil, "", err
		}
		return rc, "", nil
	case KindValue:
		if s, ok := jsonText(b.value); ok {
			return strings.NewReader(s), "application/json", nil
		}
		return strings.NewReader(sprint(b.value)), "text/plain;charset=UTF-8", nil
	}
	return nil, "", fmt.Errorf("payload: unknown body kind %d", b.kind)
}

func encodeForm(entries []FormEntry) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, e := range entries {
		if e.File {
			if _, err := w.CreateFormFile(e.Key, e.Value); err != nil {
				return nil, "", err
			}
			continue
		}
		if err := w.WriteField(e.Key, e.Value); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
