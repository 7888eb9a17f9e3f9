package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/google/renameio"

	"github.com/cochaviz/stemcell/internal/stemcell"
)

// Reserved keys read back by the orchestrator.
const (
	// StemcellTgzKey names the archive stage scripts leave in the work directory.
	StemcellTgzKey = "stemcell_tgz"
	VersionKey     = "stemcell_version"
	BuildPathKey   = "stemcell_build_path"
	WorkPathKey    = "stemcell_work_path"
)

const boshProtocolVersion = "1"

// Settings is an ordered key/value mapping handed to every stage.
type Settings struct {
	keys   []string
	values map[string]string
}

// New returns an empty mapping.
func New() *Settings {
	return &Settings{values: make(map[string]string)}
}

// Set stores value under key. Existing keys keep their position.
func (s *Settings) Set(key, value string) {
	if _, exists := s.values[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// SetBool stores a boolean as "true" or "false".
func (s *Settings) SetBool(key string, value bool) {
	s.Set(key, strconv.FormatBool(value))
}

// SetInt stores an integer in base 10.
func (s *Settings) SetInt(key string, value int) {
	s.Set(key, strconv.Itoa(value))
}

// Get returns the value stored under key.
func (s *Settings) Get(key string) (string, bool) {
	value, ok := s.values[key]
	return value, ok
}

// Keys returns the keys in insertion order.
func (s *Settings) Keys() []string {
	return slices.Clone(s.keys)
}

// Len returns the number of entries.
func (s *Settings) Len() int {
	return len(s.keys)
}

// ErrInvalidKey marks a key that is not a shell variable name. Stages source
// the settings file, so such a key would be executed rather than assigned.
var ErrInvalidKey = errors.New("invalid settings key")

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateKey rejects keys that are not plain shell variable names.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w %q", ErrInvalidKey, key)
	}
	return nil
}

// Merge applies every entry of values, visiting keys in sorted order. Nothing
// is applied when any key is invalid.
func (s *Settings) Merge(values map[string]string) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if err := ValidateKey(key); err != nil {
			return err
		}
	}
	for _, key := range keys {
		s.Set(key, values[key])
	}
	return nil
}

// Input is everything Build derives the settings from.
type Input struct {
	Spec            stemcell.BuildSpec
	Infrastructure  stemcell.Infrastructure
	OperatingSystem stemcell.OperatingSystem
}

// Build merges infrastructure/OS defaults, the build spec and caller
// overrides, in that order.
func Build(input Input, overrides map[string]string) (*Settings, error) {
	infra := input.Infrastructure
	opsys := input.OperatingSystem
	spec := input.Spec

	s := New()

	name := fmt.Sprintf("bosh-%s-%s-%s", infra.Name, infra.Hypervisor, opsys.Name)
	s.Set("stemcell_name", name)
	s.Set("stemcell_image_name", fmt.Sprintf("%s-%s-%s.raw", infra.Name, infra.Hypervisor, opsys.Name))
	s.Set("stemcell_hypervisor", infra.Hypervisor)
	s.Set("stemcell_infrastructure", infra.Name)
	s.Set("stemcell_operating_system", opsys.Name)
	s.SetBool("stemcell_light", infra.Light)
	s.Set("bosh_protocol_version", boshProtocolVersion)
	s.SetInt("image_create_disk_size", infra.DefaultDiskSizeMB)
	s.Set("system_parameters_infrastructure", infra.Name)

	s.Set(VersionKey, spec.Version)
	s.Set("bosh_release_tgz_path", spec.ReleaseTarballPath)
	s.Set(StemcellTgzKey, stemcell.ArchiveFilename{
		Version:         spec.Version,
		Infrastructure:  infra,
		OperatingSystem: opsys,
		Light:           infra.Light,
	}.String())

	if err := s.Merge(overrides); err != nil {
		return nil, err
	}
	return s, nil
}

// WriteError reports a settings file that could not be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write settings %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Bytes renders the mapping as key=value lines.
func (s *Settings) Bytes() []byte {
	var buf bytes.Buffer
	for _, key := range s.keys {
		buf.WriteString(key)
		buf.WriteByte('=')
		buf.WriteString(quote(s.values[key]))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Write replaces target with the rendered settings, creating parent
// directories as needed.
func (s *Settings) Write(target string) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &WriteError{Path: target, Err: err}
	}

	f, err := renameio.TempFile(dir, target)
	if err != nil {
		return &WriteError{Path: target, Err: err}
	}
	defer f.Cleanup()

	if _, err := f.Write(s.Bytes()); err != nil {
		return &WriteError{Path: target, Err: err}
	}
	// renameio creates the pending file with mode 0600
	if err := f.Chmod(0o644); err != nil {
		return &WriteError{Path: target, Err: err}
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return &WriteError{Path: target, Err: err}
	}
	return nil
}

// Read parses a settings file previously produced by Write. Quoted values
// may span lines.
func Read(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	s := New()
	p := &parser{src: string(data), line: 1}
	for {
		p.skipBlankAndComments()
		if p.done() {
			return s, nil
		}
		line := p.line
		key, value, err := p.entry()
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		s.Set(key, value)
	}
}

type parser struct {
	src  string
	pos  int
	line int
}

func (p *parser) done() bool {
	return p.pos >= len(p.src)
}

func (p *parser) skipBlankAndComments() {
	for !p.done() {
		switch c := p.src[p.pos]; {
		case c == '\n':
			p.line++
			p.pos++
		case c == ' ' || c == '\t' || c == '\r':
			p.pos++
		case c == '#':
			end := strings.IndexByte(p.src[p.pos:], '\n')
			if end < 0 {
				p.pos = len(p.src)
				return
			}
			p.pos += end
		default:
			return
		}
	}
}

func (p *parser) entry() (string, string, error) {
	rest := p.src[p.pos:]
	eq := strings.IndexAny(rest, "=\n")
	if eq < 0 || rest[eq] != '=' {
		end := strings.IndexByte(rest, '\n')
		if end < 0 {
			end = len(rest)
		}
		return "", "", fmt.Errorf("malformed setting %q", strings.TrimSpace(rest[:end]))
	}
	key := rest[:eq]
	if err := ValidateKey(key); err != nil {
		return "", "", err
	}
	p.pos += eq + 1

	var b strings.Builder
	for !p.done() {
		c := p.src[p.pos]
		switch {
		case c == '\n':
			p.line++
			p.pos++
			return key, b.String(), nil
		case c == '\'':
			end := strings.IndexByte(p.src[p.pos+1:], '\'')
			if end < 0 {
				return "", "", fmt.Errorf("unterminated quote in value of %s", key)
			}
			quoted := p.src[p.pos+1 : p.pos+1+end]
			p.line += strings.Count(quoted, "\n")
			b.WriteString(quoted)
			p.pos += end + 2
		case c == '\\' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '\'':
			b.WriteByte('\'')
			p.pos += 2
		case c == '\r' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '\n':
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return key, b.String(), nil
}

// quote single-quotes values the shell would otherwise split or expand.
func quote(value string) string {
	if value != "" && strings.IndexFunc(value, needsQuoting) < 0 {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./:,+@%", r):
		return false
	default:
		return true
	}
}
