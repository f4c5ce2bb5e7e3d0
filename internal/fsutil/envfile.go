package fsutil

import (
	"fmt"
	"sort"
	"strings"

	"localauth/internal/logging"
)

// FormatEnv renders values as KEY=value lines sorted by key, quoted so that
// compose env_file parsing returns the value unchanged.
func FormatEnv(values map[string]string) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(quoteEnv(values[k]))
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

// WriteEnvFile atomically writes values to path with 0600 permissions
func WriteEnvFile(path string, values map[string]string, logger *logging.Logger) error {
	for k := range values {
		if !validEnvKey(k) {
			return fmt.Errorf("invalid environment variable name %q", k)
		}
	}
	return AtomicWriteFile(path, FormatEnv(values), DefaultFilePermissions, logger)
}

func quoteEnv(v string) string {
	if v == "" {
		return ""
	}
	if !strings.ContainsAny(v, " \t#'\"$\\\n") {
		return v
	}
	if !strings.ContainsAny(v, "'\n") {
		return "'" + v + "'"
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "$", "$$")
	return `"` + r.Replace(v) + `"`
}

func validEnvKey(k string) bool {
	if k == "" {
		return false
	}
	for i, c := range k {
		switch {
		case c == '_', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
