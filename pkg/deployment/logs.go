package deployment

import "strings"

// SplitLines breaks a log chunk into lines.
//
// open is true when the chunk does not end with a newline, i.e. its last
// line may still be continued by the next chunk. CRLF endings are accepted.
func SplitLines(chunk string) (lines []string, open bool) {
	if chunk == "" {
		return nil, false
	}
	chunk = strings.ReplaceAll(chunk, "\r\n", "\n")
	open = !strings.HasSuffix(chunk, "\n")
	chunk = strings.TrimSuffix(chunk, "\n")
	return strings.Split(chunk, "\n"), open
}

// JoinLines renders a log buffer back into text with a trailing newline
func JoinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
