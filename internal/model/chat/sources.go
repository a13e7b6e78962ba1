package chat

import (
	"regexp"
	"strings"
)

var sourcesPattern = regexp.MustCompile(`(?s)<details>.*?<summary>\s*Sources?\s*</summary>(.*?)</details>`)

// SplitSources separates a trailing "Sources" details block from an answer.
func SplitSources(content string) (body string, sources string) {
	match := sourcesPattern.FindStringSubmatch(content)
	if match == nil {
		return content, ""
	}
	body = strings.TrimSpace(sourcesPattern.ReplaceAllString(content, ""))
	return body, strings.TrimSpace(match[1])
}
