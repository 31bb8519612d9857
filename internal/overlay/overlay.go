// Package overlay renders the in-page warning shown when a call is blocked.
package overlay

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/supergoodsystems/exfilguard-go/pkg/event"
)

// ElementID is the DOM id of the overlay; a newer alert replaces an older one.
const ElementID = "__exfilguard_overlay"

var formPair = regexp.MustCompile(`=.+?(&|$)`)

// FormatEvidence makes evidence readable: JSON documents are indented and
// form-encoded text is split into one "key: value" per line.
func FormatEvidence(text string) string {
	trimmed := strings.TrimSpace(text)
	if isContainer(trimmed) && gjson.Valid(trimmed) {
		return strings.TrimRight(gjson.Get(trimmed, "@pretty").String(), "\n")
	}
	if formPair.MatchString(text) {
		return strings.NewReplacer("&", "\n", "=", ": ").Replace(text)
	}
	return text
}

func isContainer(s string) bool {
	return (strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")) ||
		(strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"))
}

type view struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Method   string `json:"method"`
	URL      string `json:"url"`
	Evidence string `json:"evidence"`
	Raw      string `json:"raw"`
}

// Script returns a self-contained JavaScript expression that shows the
// warning for b in the current document. All values are inserted as text.
func Script(b *event.Block) (string, error) {
	title, _ := b.Notification()
	data, err := json.Marshal(view{
		ID:       ElementID,
		Title:    title,
		Method:   b.Method,
		URL:      b.URL,
		Evidence: FormatEvidence(b.Evidence),
		Raw:      b.Evidence,
	})
	if err != nil {
		return "", err
	}
	return "(" + script + ")(" + string(data) + ")", nil
}

const script = `function (a) {
  var old = document.getElementById(a.id);
  if (old) { old.remove(); }
  var root = document.createElement('div');
  root.id = a.id;
  root.style.cssText = 'position:fixed;inset:0;display:flex;align-items:center;justify-content:center;z-index:2147483647;background:rgba(0,0,0,0.42);font-family:Arial,sans-serif';
  var card = document.createElement('div');
  card.style.cssText = 'width:520px;max-width:94%;background:#fff;border-radius:10px;padding:16px;box-shadow:0 12px 40px rgba(0,0,0,0.3)';
  var h = document.createElement('h2');
  h.textContent = a.title;
  var target = document.createElement('div');
  target.textContent = a.method + ' ' + a.url;
  target.style.cssText = 'font-size:13px;word-break:break-all;color:#444';
  var pre = document.createElement('pre');
  pre.textContent = a.evidence;
  pre.style.cssText = 'max-height:240px;overflow:auto;background:#f6f6f8;padding:8px;white-space:pre-wrap';
  var copy = document.createElement('button');
  copy.textContent = 'Copy evidence';
  copy.onclick = function () {
    try { navigator.clipboard.writeText(a.raw); copy.textContent = 'Copied'; } catch (e) {}
  };
  var close = document.createElement('button');
  close.textContent = 'Close';
  close.onclick = function () { root.remove(); };
  card.append(h, target, pre, copy, close);
  root.appendChild(card);
  (document.body || document.documentElement).appendChild(root);
  return true;
}`
