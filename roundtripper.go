package exfilguard

import (
	"context"
	"net/http"

	"github.com/supergoodsystems/exfilguard-go/pkg/intercept"
	"github.com/supergoodsystems/exfilguard-go/pkg/payload"
)

type roundTripper struct {
	sg   *Service
	next http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rawURL := req.URL.String()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	// Bodies are only captured for watched hosts. A body without GetBody has
	// to be drained to be read, so a clone carrying a replay of it is sent
	// in place of req.
	out := req
	body := payload.Absent()
	if rt.sg.Engine.Watched(rawURL) {
		if req.GetBody == nil && req.Body != nil && req.Body != http.NoBody {
			out = req.Clone(req.Context())
		}
		body = payload.FromRequest(out)
	}

	call := intercept.NewCall(intercept.SurfaceFetch, method, rawURL, body)
	resp, err := intercept.Fetch(req.Context(), rt.sg.Engine, call, func(context.Context) (*http.Response, error) {
		return rt.next.RoundTrip(out)
	})
	if call.Blocked() && out.Body != nil {
		out.Body.Close()
	}
	return resp, err
}
