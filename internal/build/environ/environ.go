package environ

import (
	"os"
	"strings"
)

// AllowList holds the only ambient variables forwarded to stages. Matching is
// case-sensitive.
var AllowList = []string{"HTTP_PROXY", "no_proxy"}

// Provider supplies the ambient process environment.
type Provider interface {
	Environ() map[string]string
}

// OS reads the real process environment.
type OS struct{}

func (OS) Environ() map[string]string {
	entries := os.Environ()
	env := make(map[string]string, len(entries))
	for _, entry := range entries {
		if key, value, ok := strings.Cut(entry, "="); ok {
			env[key] = value
		}
	}
	return env
}

// Static is a fixed environment.
type Static map[string]string

func (s Static) Environ() map[string]string {
	env := make(map[string]string, len(s))
	for k, v := range s {
		env[k] = v
	}
	return env
}

// Var is a single environment variable.
type Var struct {
	Key   string
	Value string
}

// Environment is the allow-listed subset of an ambient environment.
type Environment []Var

// Sanitize keeps the allow-listed variables present in provider, in
// allow-list order.
func Sanitize(provider Provider) Environment {
	if provider == nil {
		return nil
	}
	ambient := provider.Environ()

	var env Environment
	for _, key := range AllowList {
		if value, ok := ambient[key]; ok {
			env = append(env, Var{Key: key, Value: value})
		}
	}
	return env
}

// Pairs renders the variables as KEY=value strings.
func (e Environment) Pairs() []string {
	pairs := make([]string, 0, len(e))
	for _, v := range e {
		pairs = append(pairs, v.Key+"="+v.Value)
	}
	return pairs
}

// Prefix renders the shell command prefix, e.g. env HTTP_PROXY='proxy'.
func (e Environment) Prefix() string {
	var builder strings.Builder
	builder.WriteString("env ")
	for i, v := range e {
		if i > 0 {
			builder.WriteByte(' ')
		}
		builder.WriteString(v.Key)
		builder.WriteByte('=')
		builder.WriteString(ShellQuote(v.Value))
	}
	return builder.String()
}

// ShellQuote wraps value in single quotes for POSIX shells.
func ShellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
