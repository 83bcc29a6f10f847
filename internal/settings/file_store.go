package settings

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/localrest/internal/util"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// FileStore persists settings as a YAML document.
//
// Values may reference the environment as ${VAR} or ${VAR:-default}; "$$"
// is a literal dollar. Save writes such a value back as the reference, not
// the resolved text, while it still resolves to the value being saved.
type FileStore struct {
	path string

	mu     sync.Mutex
	digest [sha256.Size]byte
	refs   map[string]envRef
}

// envRef is a scalar that contained an environment reference when loaded.
type envRef struct {
	raw      string
	resolved string
}

// NewFileStore creates a FileStore at path. The file does not need to exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the settings file path.
func (f *FileStore) Path() string {
	return f.path
}

// Load implements Store. A missing file yields Defaults.
func (f *FileStore) Load() (*Settings, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, util.NewConfigErrorWithCause(f.path, "failed to read settings file", err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, util.NewConfigErrorWithCause(f.path, "failed to parse settings file", err)
	}

	refs := collectEnvRefs(data)

	f.mu.Lock()
	f.digest = sha256.Sum256(data)
	f.refs = refs
	f.mu.Unlock()

	return s, nil
}

// Save implements Store. The document is written to a temporary file and
// renamed into place.
func (f *FileStore) Save(s *Settings) error {
	var doc yaml.Node
	if err := doc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	f.mu.Lock()
	refs := restoreEnvRefs(&doc, f.refs)
	f.mu.Unlock()

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set settings permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close settings file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	f.digest = sha256.Sum256(data)
	f.refs = refs

	return nil
}

// IsOwnWrite reports whether data is exactly what this store last wrote or
// read, so a file watcher can skip echoes of its own saves.
func (f *FileStore) IsOwnWrite(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sha256.Sum256(data) == f.digest
}

// Parse decodes a YAML settings document over Defaults after substituting
// environment variables.
func Parse(data []byte) (*Settings, error) {
	content := substituteEnvVars(string(data))

	s := Defaults()
	if err := yaml.Unmarshal([]byte(content), s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	s.ApplyDefaults()

	return s, nil
}

// collectEnvRefs records every scalar of the raw document that is changed
// by environment substitution, keyed by its dotted mapping path.
func collectEnvRefs(data []byte) map[string]envRef {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil
	}

	refs := make(map[string]envRef)
	walkScalars(&doc, "", func(path string, n *yaml.Node) {
		if !strings.Contains(n.Value, "$") {
			return
		}
		if resolved := substituteEnvVars(n.Value); resolved != n.Value {
			refs[path] = envRef{raw: n.Value, resolved: resolved}
		}
	})
	return refs
}

// restoreEnvRefs puts the raw reference back into every scalar of doc that
// still holds its resolved value. It returns the references kept.
func restoreEnvRefs(doc *yaml.Node, refs map[string]envRef) map[string]envRef {
	if len(refs) == 0 {
		return nil
	}

	kept := make(map[string]envRef)
	walkScalars(doc, "", func(path string, n *yaml.Node) {
		ref, ok := refs[path]
		if !ok || n.Value != ref.resolved {
			return
		}
		n.Value = ref.raw
		n.Tag = "!!str"
		n.Style = 0
		kept[path] = ref
	})
	return kept
}

func walkScalars(n *yaml.Node, path string, fn func(string, *yaml.Node)) {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			walkScalars(c, path, fn)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			walkScalars(n.Content[i+1], path+"."+n.Content[i].Value, fn)
		}
	case yaml.ScalarNode:
		fn(path, n)
	}
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with
// environment variable values. "$$" escapes a literal dollar sign.
func substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""
		if len(submatches) >= 3 {
			defaultValue = submatches[2]
		}

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return defaultValue
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}
