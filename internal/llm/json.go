package llm

import "strings"

// ExtractJSON strips optional markdown fences and returns the outermost JSON
// object or array found in an oracle response. Handles:
//   - Bare JSON:       { ... } or [ ... ]
//   - Code-fenced:     ```json\n{ ... }\n```  or  ```\n[ ... ]\n```
func ExtractJSON(response string) (string, bool) {
	stripped := response
	for _, fence := range []string{"```json", "```JSON", "```"} {
		if idx := strings.Index(stripped, fence); idx != -1 {
			stripped = stripped[idx+len(fence):]
			if end := strings.Index(stripped, "```"); end != -1 {
				stripped = stripped[:end]
			}
			break
		}
	}

	start, closer := strings.Index(stripped, "{"), "}"
	if arr := strings.Index(stripped, "["); arr != -1 && (start == -1 || arr < start) {
		start, closer = arr, "]"
	}
	end := strings.LastIndex(stripped, closer)
	if start != -1 && end > start {
		return stripped[start : end+1], true
	}
	return "", false
}
