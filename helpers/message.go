package helpers

import (
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/k3a/html2text"
)

// ExtractTextBody walks the MIME structure of a message and returns the best
// plain-text rendering of its body. text/plain parts are preferred; text/html
// parts are flattened with html2text. Returns "" when no text part exists.
func ExtractTextBody(entity *message.Entity) string {
	plain, html := collectTextParts(entity)
	if plain != "" {
		return strings.TrimSpace(plain)
	}
	if html != "" {
		return strings.TrimSpace(html2text.HTML2Text(html))
	}
	return ""
}

// collectTextParts returns the first text/plain and text/html part bodies
// found in the entity, descending into nested multiparts.
func collectTextParts(entity *message.Entity) (plain, html string) {
	mediaType, _, _ := entity.Header.ContentType()

	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				// Tolerate malformed nested parts; use whatever was readable.
				break
			}
			p, h := collectTextParts(part)
			if plain == "" {
				plain = p
			}
			if html == "" {
				html = h
			}
			if plain != "" && html != "" {
				break
			}
		}
		return plain, html
	}

	body, err := io.ReadAll(entity.Body)
	if err != nil {
		return "", ""
	}

	switch {
	case strings.HasPrefix(mediaType, "text/plain"), mediaType == "":
		return string(body), ""
	case strings.HasPrefix(mediaType, "text/html"):
		return "", string(body)
	}
	return "", ""
}
