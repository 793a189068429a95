package sync

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tuannvm/zendesk-forum-sync/internal/config"
	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
)

// Sanitizer cleans HTML received from the ticketing service.
type Sanitizer interface {
	Sanitize(html string) string
}

// StripSignature applies a single-capture pattern to body. When the pattern
// matches, only the captured text is kept; otherwise body is returned as is.
func StripSignature(body, pattern string) (string, error) {
	stripped, _, err := stripSignature(body, pattern)
	return stripped, err
}

func stripSignature(body, pattern string) (string, bool, error) {
	if pattern == "" {
		return body, false, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return body, false, fmt.Errorf("invalid signature pattern %q: %w", pattern, err)
	}
	m := re.FindStringSubmatch(body)
	if len(m) < 2 {
		return body, false, nil
	}
	return m[1], true, nil
}

// FormatAttachment renders one attachment as a markdown link. Images with a
// thumbnail become a clickable thumbnail.
func FormatAttachment(a models.Attachment) string {
	if strings.HasPrefix(a.ContentType, "image") && len(a.Thumbnails) > 0 {
		return fmt.Sprintf("[![](%s)](%s)", a.Thumbnails[0].PublicURL(), a.PublicURL())
	}
	return fmt.Sprintf("[%s (%s)](%s)", a.FileName, a.ContentType, a.PublicURL())
}

// BuildPostBody turns a remote comment into the raw body of a forum
// message. With attachments enabled the sanitized html body is preferred
// unless a signature was stripped from the plain body.
func BuildPostBody(c *models.RemoteComment, s config.SyncSettings, sanitizer Sanitizer) string {
	body, cut, err := stripSignature(c.Body, s.SignatureRegex)
	if err != nil {
		logging.Warnw("signature pattern ignored", "comment_id", c.ID, "error", err)
	}
	if s.AppendAttachments && c.HTMLBody != "" && !cut {
		body = sanitizer.Sanitize(c.HTMLBody)
	}

	if !s.AppendAttachments || len(c.Attachments) == 0 {
		return body
	}
	parts := []string{body}
	for _, a := range c.Attachments {
		parts = append(parts, FormatAttachment(a))
	}
	return strings.Join(parts, "\n\n")
}
