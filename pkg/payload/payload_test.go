package payload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestTextSync(t *testing.T) {
	tests := []struct {
		name string
		body Body
		want string
	}{
		{"absent", Absent(), ""},
		{"zero value", Body{}, ""},
		{"string", String("chat_id=1&text=hello"), "chat_id=1&text=hello"},
		{"urlencoded", URLValues(url.Values{"b": {"2"}, "a": {"1 2"}}), "a=1+2&b=2"},
		{"nil urlencoded", URLValues(nil), ""},
		{"form", Form(FormEntry{Key: "user", Value: "bob"}, FormEntry{Key: "doc", Value: "a.txt", File: true}), "user=bob&doc=[file]"},
		{"json value", Of(point{1, 2}), `{"x":1,"y":2}`},
		{"map value", Of(map[string]string{"email": "a@b.com"}), `{"email":"a@b.com"}`},
		{"unmarshalable value", Of(make(chan int)), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TextSync(tt.body)
			require.True(t, ok)
			if tt.name == "unmarshalable value" {
				require.True(t, strings.HasPrefix(got, "0x"), got)
				return
			}
			require.Equal(t, tt.want, got)
		})
	}
}

func TestTextSync_needsAsync(t *testing.T) {
	for _, b := range []Body{
		Bytes([]byte("password=x")),
		Blob(func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("x")), nil }),
		Of(strings.NewReader("x")),
	} {
		text, ok := TextSync(b)
		require.False(t, ok, b.Kind().String())
		require.Empty(t, text)
		require.True(t, b.Binary())
	}
}

func TestTextAsync_agreesWithSync(t *testing.T) {
	ctx := context.Background()
	for _, b := range []Body{
		Absent(),
		String("token: abc"),
		URLValues(url.Values{"k": {"v"}}),
		Form(FormEntry{Key: "a", Value: "b"}),
		Of([]int{1, 2, 3}),
	} {
		want, ok := TextSync(b)
		require.True(t, ok)
		require.Equal(t, want, Text(ctx, b), b.Kind().String())
	}
}

func TestTextAsync_binary(t *testing.T) {
	ctx := context.Background()

	t.Run("bytes", func(t *testing.T) {
		require.Equal(t, "password=hunter2", Text(ctx, Bytes([]byte("password=hunter2"))))
	})

	t.Run("bom is stripped", func(t *testing.T) {
		require.Equal(t, "email=x", Text(ctx, Bytes([]byte("\xef\xbb\xbfemail=x"))))
	})

	t.Run("invalid utf8 is replaced", func(t *testing.T) {
		require.Equal(t, "a�b", Text(ctx, Bytes([]byte("a\xffb"))))
	})

	t.Run("blob", func(t *testing.T) {
		b := Blob(func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("user: bob")), nil
		})
		require.Equal(t, "user: bob", Text(ctx, b))
	})

	t.Run("reader is replayable", func(t *testing.T) {
		b := Reader(bytes.NewBufferString("secret"))
		require.Equal(t, "secret", Text(ctx, b))
		require.Equal(t, "secret", Text(ctx, b))
	})

	t.Run("blob open failure", func(t *testing.T) {
		b := Blob(func() (io.ReadCloser, error) { return nil, errors.New("gone") })
		require.Equal(t, PlaceholderBlob, Text(ctx, b))
	})

	t.Run("blob read failure", func(t *testing.T) {
		b := Blob(func() (io.ReadCloser, error) {
			return io.NopCloser(io.MultiReader(strings.NewReader("x"), errReader{})), nil
		})
		require.Equal(t, PlaceholderBlob, Text(ctx, b))
	})

	t.Run("nil blob source", func(t *testing.T) {
		require.Equal(t, PlaceholderBlob, Text(ctx, Blob(nil)))
	})

	t.Run("context expires mid-read", func(t *testing.T) {
		pr, pw := io.Pipe()
		defer pw.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		b := Blob(func() (io.ReadCloser, error) { return pr, nil })
		require.Equal(t, PlaceholderBlob, Text(ctx, b))
	})
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("broken") }

func TestMultipart(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("user", "bob"))
	require.NoError(t, w.WriteField("chat_id", "1"))
	fw, err := w.CreateFormFile("doc", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("password=x"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	defer form.RemoveAll()

	text, ok := TextSync(Of(form))
	require.True(t, ok)
	require.Equal(t, "chat_id=1&doc=[file]&user=bob", text)
}

func TestCompose(t *testing.T) {
	assert.Equal(t, "?a=1&b=2\nbody", Compose("https://api.telegram.org/x?a=1&b=2", "body"))
	assert.Equal(t, "\nbody", Compose("https://api.telegram.org/x", "body"))
	assert.Equal(t, "\n", Compose("https://api.telegram.org/x?", ""))
	assert.Equal(t, "\nbody", Compose("http://[::1", "body"))
}

func TestFromRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("no body", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, "https://api.telegram.org/", nil)
		require.NoError(t, err)
		require.Equal(t, KindAbsent, FromRequest(req).Kind())
	})

	t.Run("GetBody leaves request untouched", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, "https://api.telegram.org/", strings.NewReader("text=hi"))
		require.NoError(t, err)
		original := req.Body

		b := FromRequest(req)
		require.Equal(t, KindBlob, b.Kind())
		require.Equal(t, "text=hi", Text(ctx, b))
		require.Equal(t, original, req.Body)

		rest, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.Equal(t, "text=hi", string(rest))
	})

	t.Run("opaque body is restored", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, "https://api.telegram.org/", io.NopCloser(strings.NewReader("pwd=1")))
		require.NoError(t, err)
		require.Nil(t, req.GetBody)

		b := FromRequest(req)
		require.Equal(t, KindBytes, b.Kind())
		require.Equal(t, "pwd=1", Text(ctx, b))

		rest, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.Equal(t, "pwd=1", string(rest))
	})

	t.Run("read error is replayed", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, "https://api.telegram.org/", io.NopCloser(errReader{}))
		require.NoError(t, err)

		b := FromRequest(req)
		require.Equal(t, PlaceholderBlob, Text(ctx, b))
		_, err = io.ReadAll(req.Body)
		require.Error(t, err)
	})
}
