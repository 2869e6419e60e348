package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands {{.VAR_NAME}} references in YAML content from the
// environment. Template syntax is used instead of $ expansion so literal $
// characters in SQL templates and regex patterns pass through untouched.
// Missing variables expand to the empty string; malformed templates leave
// the content unchanged so template-free YAML always passes through.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			env[kv[:idx]] = kv[idx+1:]
		}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
