// Package payload renders outbound request bodies as text for inspection.
//
// A [Body] is a tagged union over the body shapes an outbound call can carry.
// Textual shapes render synchronously with [TextSync]; binary shapes need the
// full contents and render with [TextAsync] or [Text].
package payload

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"sync"
)

// Kind identifies the shape of a Body.
type Kind int

const (
	KindAbsent Kind = iota
	KindString
	KindURLValues
	KindForm
	KindBytes
	KindBlob
	KindValue
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindURLValues:
		return "urlencoded"
	case KindForm:
		return "form"
	case KindBytes:
		return "bytes"
	case KindBlob:
		return "blob"
	case KindValue:
		return "value"
	}
	return "unknown"
}

// FormEntry is one field of a key/value form. File marks file-like values,
// which render as "[file]" regardless of Value.
type FormEntry struct {
	Key   string
	Value string
	File  bool
}

// Body is an outbound request body. The zero value is an absent body.
type Body struct {
	kind   Kind
	str    string
	values url.Values
	form   []FormEntry
	bytes  []byte
	open   func() (io.ReadCloser, error)
	value  any
}

// Kind returns the body shape.
func (b Body) Kind() Kind { return b.kind }

// Binary reports whether the body needs full decoding before it can be read.
func (b Body) Binary() bool { return b.kind == KindBytes || b.kind == KindBlob }

// Absent returns an empty body.
func Absent() Body { return Body{} }

// String wraps a plain text body.
func String(s string) Body { return Body{kind: KindString, str: s} }

// URLValues wraps a URL-encoded form.
func URLValues(v url.Values) Body {
	if v == nil {
		v = url.Values{}
	}
	return Body{kind: KindURLValues, values: v}
}

// Form wraps key/value form data in the given order.
func Form(entries ...FormEntry) Body {
	return Body{kind: KindForm, form: append([]FormEntry(nil), entries...)}
}

// Multipart wraps a parsed multipart form. Keys are visited in sorted order,
// plain values before files.
func Multipart(f *multipart.Form) Body {
	if f == nil {
		return Form()
	}
	keys := make([]string, 0, len(f.Value)+len(f.File))
	seen := map[string]bool{}
	for k := range f.Value {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range f.File {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var entries []FormEntry
	for _, k := range keys {
		for _, v := range f.Value[k] {
			entries = append(entries, FormEntry{Key: k, Value: v})
		}
		for _, fh := range f.File[k] {
			entries = append(entries, FormEntry{Key: k, Value: fh.Filename, File: true})
		}
	}
	return Body{kind: KindForm, form: entries}
}

// Bytes wraps a binary buffer. The slice is not copied.
func Bytes(b []byte) Body { return Body{kind: KindBytes, bytes: b} }

// Blob wraps a lazily opened stream. open may be called more than once and
// must return an independent reader each time.
func Blob(open func() (io.ReadCloser, error)) Body {
	return Body{kind: KindBlob, open: open}
}

// Reader wraps a one-shot stream as a blob. The stream is read at most once;
// later opens replay the buffered contents.
func Reader(r io.Reader) Body {
	var (
		once sync.Once
		buf  []byte
		err  error
	)
	return Blob(func() (io.ReadCloser, error) {
		once.Do(func() { buf, err = io.ReadAll(r) })
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(buf)), nil
	})
}

// Of classifies an arbitrary value. Unknown types render as JSON.
func Of(v any) Body {
	switch t := v.(type) {
	case nil:
		return Absent()
	case Body:
		return t
	case string:
		return String(t)
	case *string:
		if t == nil {
			return Absent()
		}
		return String(*t)
	case url.Values:
		return URLValues(t)
	case []FormEntry:
		return Form(t...)
	case *multipart.Form:
		return Multipart(t)
	case []byte:
		return Bytes(t)
	case io.Reader:
		return Reader(t)
	}
	return Body{kind: KindValue, value: v}
}

// FromRequest captures the body of an outgoing http request without
// consuming it. When GetBody is set the request is left untouched; otherwise
// the body is buffered and req.Body is replaced by an equivalent reader.
func FromRequest(req *http.Request) Body {
	if req == nil || req.Body == nil || req.Body == http.NoBody {
		return Absent()
	}
	if req.GetBody != nil {
		return Blob(req.GetBody)
	}

	var b []byte
	var err error
	b, req.Body, err = duplicateBody(req.Body)
	if err != nil {
		return Blob(func() (io.ReadCloser, error) { return nil, err })
	}
	return Bytes(b)
}

type readCloser struct {
	c io.ReadCloser
	r *bytes.Reader
	e error
}

func (rc *readCloser) Read(b []byte) (int, error) {
	if rc.e != nil {
		return 0, rc.e
	}
	return rc.r.Read(b)
}

func (rc *readCloser) Close() error {
	return rc.c.Close()
}

// duplicateBody drains r and returns its contents plus a replacement reader
// that replays them (or the original read error) and closes r.
func duplicateBody(r io.ReadCloser) ([]byte, io.ReadCloser, error) {
	b, err := io.ReadAll(r)
	return b, &readCloser{c: r, r: bytes.NewReader(b), e: err}, err
}
