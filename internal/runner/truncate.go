package runner

import (
	"fmt"
	"regexp"
)

// DefaultMaxToolResultBytes bounds a tool result before it enters history.
const DefaultMaxToolResultBytes = 64 * 1024

type blobStripper struct {
	pattern *regexp.Regexp
	label   string
}

// Applied in order until the content fits.
var blobStrippers = []blobStripper{
	{regexp.MustCompile(`data:[a-zA-Z0-9+/=\-]+;base64,[A-Za-z0-9+/=]{64,}`), "base64"},
	{regexp.MustCompile(`[0-9a-fA-F]{256,}`), "hex"},
}

// TruncateToolResult shrinks content to roughly maxBytes. Inline base64 data
// URIs and long hex blobs are replaced first; if that is not enough the middle
// is cut and the head and tail are kept.
func TruncateToolResult(content string, maxBytes int) string {
	if maxBytes <= 0 || len(content) <= maxBytes {
		return content
	}

	for _, s := range blobStrippers {
		content = s.pattern.ReplaceAllStringFunc(content, func(m string) string {
			return fmt.Sprintf("[%s data removed, %d bytes]", s.label, len(m))
		})
		if len(content) <= maxBytes {
			return content
		}
	}

	keep := maxBytes * 2 / 5
	if 2*keep >= len(content) {
		return content
	}
	cut := len(content) - 2*keep
	return fmt.Sprintf("%s\n\n[... %d bytes truncated ...]\n\n%s", content[:keep], cut, content[len(content)-keep:])
}
