package payload

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func TestEncode(t *testing.T) {
	r, ct, err := Encode(Absent())
	require.NoError(t, err)
	require.Nil(t, r)
	require.Empty(t, ct)

	r, ct, err = Encode(String("hi"))
	require.NoError(t, err)
	require.Equal(t, "hi", readAll(t, r))
	require.Equal(t, "text/plain;charset=UTF-8", ct)

	r, ct, err = Encode(URLValues(url.Values{"a": {"1"}}))
	require.NoError(t, err)
	require.Equal(t, "a=1", readAll(t, r))
	require.Contains(t, ct, "application/x-www-form-urlencoded")

	r, ct, err = Encode(Bytes([]byte{1, 2}))
	require.NoError(t, err)
	require.Equal(t, "\x01\x02", readAll(t, r))
	require.Empty(t, ct)

	r, ct, err = Encode(Of(map[string]int{"n": 1}))
	require.NoError(t, err)
	require.Equal(t, `{"n":1}`, readAll(t, r))
	require.Equal(t, "application/json", ct)

	_, _, err = Encode(Blob(func() (io.ReadCloser, error) { return nil, errors.New("gone") }))
	require.Error(t, err)
}

func TestEncode_form(t *testing.T) {
	r, ct, err := Encode(Form(FormEntry{Key: "user", Value: "bob"}, FormEntry{Key: "doc", Value: "a.txt", File: true}))
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(ct)
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	form, err := multipart.NewReader(r, params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, form.Value["user"])
	require.Equal(t, "a.txt", form.File["doc"][0].Filename)

	// a round trip through multipart keeps the text rendering
	text, ok := TextSync(Multipart(form))
	require.True(t, ok)
	require.Equal(t, "doc=[file]&user=bob", text)
}
