// Package render personalizes bulk content against a recipient row. It is
// plain key substitution: {{field}} is replaced by the row's value for
// "field"; placeholders with no matching field are left as-is.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mutter0815/DripMailer/internal/model"
)

func Fields(text string, r model.Recipient) string {
	out := strings.ReplaceAll(text, "{{email}}", r.Email)
	for k, v := range r.Fields {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

// TrackingPixel returns the 1x1 open-tracking image keyed by the send
// record's id. The cache-buster keeps mail clients from collapsing loads.
func TrackingPixel(baseURL, recordID string) string {
	return fmt.Sprintf(
		`<img src="%s/api/emails/track/open/%s?cb=%d" width="1" height="1" style="display:none" alt="" />`,
		strings.TrimRight(baseURL, "/"), recordID, time.Now().UnixMilli())
}
