package payload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// Placeholders substituted when a binary body cannot be decoded.
const (
	PlaceholderBlob  = "(blob)"
	PlaceholderBytes = "(arraybuffer)"
)

// TextSync renders b without blocking. ok is false when b is binary and must
// be rendered with TextAsync instead. It never panics; internal failures
// render as "".
func TextSync(b Body) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			text, ok = "", true
		}
	}()

	switch b.kind {
	case KindAbsent:
		return "", true
	case KindString:
		return b.str, true
	case KindURLValues:
		return b.values.Encode(), true
	case KindForm:
		return formText(b.form), true
	case KindBytes, KindBlob:
		return "", false
	case KindValue:
		return valueText(b.value), true
	}
	return "", true
}

// TextAsync renders b fully, decoding binary contents as UTF-8. The channel
// always receives exactly one value. Decode failures, including ctx expiring
// mid-read, yield a placeholder rather than an error.
func TextAsync(ctx context.Context, b Body) <-chan string {
	ch := make(chan string, 1)
	if text, ok := TextSync(b); ok {
		ch <- text
		return ch
	}
	go func() {
		ch <- resolve(ctx, b)
	}()
	return ch
}

// Text is the blocking form of TextAsync.
func Text(ctx context.Context, b Body) string {
	return <-TextAsync(ctx, b)
}

// QueryText returns the query component of rawURL including the leading "?",
// or "" when there is none or the URL does not parse.
func QueryText(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

// Compose joins the query component of rawURL and a rendered body into the
// text that is scored by the detector.
func Compose(rawURL, body string) string {
	return QueryText(rawURL) + "\n" + body
}

func resolve(ctx context.Context, b Body) (text string) {
	placeholder := PlaceholderBlob
	if b.kind == KindBytes {
		placeholder = PlaceholderBytes
	}
	defer func() {
		if r := recover(); r != nil {
			text = placeholder
		}
	}()

	var raw []byte
	switch b.kind {
	case KindBytes:
		raw = b.bytes
	case KindBlob:
		var err error
		raw, err = readBlob(ctx, b.open)
		if err != nil {
			return placeholder
		}
	}

	decoded, err := unicode.UTF8BOM.NewDecoder().Bytes(raw)
	if err != nil {
		return placeholder
	}
	return string(decoded)
}

func readBlob(ctx context.Context, open func() (io.ReadCloser, error)) ([]byte, error) {
	if open == nil {
		return nil, fmt.Errorf("payload: blob has no source")
	}
	rc, err := open()
	if err != nil {
		return nil, err
	}
	if rc == nil {
		return nil, nil
	}
	defer rc.Close()

	type result struct {
		b   []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		b, err := io.ReadAll(rc)
		done <- result{b, err}
	}()

	select {
	case r := <-done:
		return r.b, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func formText(entries []FormEntry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		v := e.Value
		if e.File {
			v = "[file]"
		}
		parts = append(parts, e.Key+"="+v)
	}
	return strings.Join(parts, "&")
}

func valueText(v any) string {
	if s, ok := jsonText(v); ok {
		return s
	}
	return sprint(v)
}

func jsonText(v any) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			text, ok = "", false
		}
	}()
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func sprint(v any) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()
	return fmt.Sprint(v)
}
