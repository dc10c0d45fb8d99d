package prompt

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
)

var variablePattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Render replaces every {{key}} whose key is bound in vars. Tokens naming an
// unbound key are left exactly as written. Keys match the text between the
// braces verbatim, so {{ name }} is only bound by a key " name ".
func Render(template string, vars map[string]any) string {
	if len(vars) == 0 || !strings.Contains(template, "{{") {
		return template
	}
	return variablePattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[2 : len(match)-2] // strip {{ and }}
		if val, ok := vars[key]; ok {
			return stringify(val)
		}
		return match
	})
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// ExtractVariables returns the distinct variable names used in templates, in
// order of first appearance.
func ExtractVariables(templates ...string) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, t := range templates {
		for _, m := range variablePattern.FindAllStringSubmatch(t, -1) {
			if !seen[m[1]] {
				vars = append(vars, m[1])
				seen[m[1]] = true
			}
		}
	}
	return vars
}

// ParseVariables decodes a JSON object of variable values. Anything that is
// not a JSON object yields an empty map.
func ParseVariables(raw string) map[string]any {
	vars := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return vars
	}
	if err := json.Unmarshal([]byte(raw), &vars); err != nil || vars == nil {
		return map[string]any{}
	}
	return vars
}
