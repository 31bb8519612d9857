package browser

import (
	"encoding/base64"
	"encoding/json"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/tidwall/gjson"
)

// paused is the part of a pause event the guard screens.
type paused struct {
	fragment    string
	text        string
	hasText     bool
	entries     []byte
	hasPostData bool
	networkID   string
}

// parsePaused reads the body fields from the event's wire form, which is
// stable across protocol revisions.
func parsePaused(ev *fetch.RequestPausedReply) paused {
	var p paused
	raw, err := json.Marshal(ev)
	if err != nil {
		return p
	}
	req := gjson.GetBytes(raw, "request")

	p.fragment = req.Get("urlFragment").String()
	if v := req.Get("postData"); v.Exists() {
		p.text, p.hasText = v.String(), true
	}
	if entries := req.Get("postDataEntries"); entries.IsArray() && !p.hasText {
		var buf []byte
		decoded := true
		entries.ForEach(func(_, e gjson.Result) bool {
			b, err := base64.StdEncoding.DecodeString(e.Get("bytes").String())
			if err != nil {
				decoded = false
				return false
			}
			buf = append(buf, b...)
			return true
		})
		if decoded {
			p.entries = append([]byte{}, buf...)
		}
	}
	p.hasPostData = req.Get("hasPostData").Bool()

	p.networkID = gjson.GetBytes(raw, "networkId").String()
	if p.networkID == "" {
		p.networkID = string(ev.RequestID)
	}
	return p
}
