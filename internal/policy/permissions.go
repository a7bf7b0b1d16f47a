// Package policy provides path-scoped tool authorization.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Converted-content access modes. They control whether an agent may read
// converter output derived from files outside its read roots.
const (
	ConvertedStrict = "strict"
	ConvertedOpen   = "open"
	ConvertedHybrid = "hybrid"
)

// Config is the raw permissions block from an agent profile.
type Config struct {
	ReadPaths  []string `json:"readPaths"`
	WritePaths []string `json:"writePaths"`
	// AllowConvertedRead is the legacy boolean; ConvertedAccess is the
	// newer three-state mode. Setting both to conflicting values is a
	// configuration error.
	AllowConvertedRead *bool  `json:"allowConvertedRead,omitempty"`
	ConvertedAccess    string `json:"convertedAccess,omitempty"`
}

// Permissions holds resolved path authorization for one agent instance.
// Each agent owns its copy; children receive clones, never the same object.
type Permissions struct {
	ReadRoots  []string
	WriteRoots []string
	// Explicit is true once any permissions block was seen, even an empty
	// one. It lets callers distinguish "no restriction configured" from
	// "restricted to nothing".
	Explicit        bool
	ConvertedAccess string
}

// FromConfig resolves a permissions block against baseDir. A nil cfg means
// no permissions were configured at all (Explicit stays false).
func FromConfig(cfg *Config, baseDir string) (*Permissions, error) {
	p := &Permissions{ConvertedAccess: ConvertedStrict}
	if cfg == nil {
		return p, nil
	}
	p.Explicit = true

	mode, err := resolveConvertedAccess(cfg)
	if err != nil {
		return nil, err
	}
	p.ConvertedAccess = mode

	for _, raw := range cfg.ReadPaths {
		p.ReadRoots = append(p.ReadRoots, resolveRoot(raw, baseDir))
	}
	for _, raw := range cfg.WritePaths {
		p.WriteRoots = append(p.WriteRoots, resolveRoot(raw, baseDir))
	}
	return p, nil
}

func resolveConvertedAccess(cfg *Config) (string, error) {
	mode := strings.TrimSpace(strings.ToLower(cfg.ConvertedAccess))
	switch mode {
	case "", ConvertedStrict, ConvertedOpen, ConvertedHybrid:
	default:
		return "", fmt.Errorf("invalid convertedAccess mode: %q", cfg.ConvertedAccess)
	}
	if cfg.AllowConvertedRead != nil {
		legacy := ConvertedStrict
		if *cfg.AllowConvertedRead {
			legacy = ConvertedOpen
		}
		if mode != "" && mode != legacy {
			return "", fmt.Errorf("conflicting converted-content settings: allowConvertedRead=%v but convertedAccess=%q", *cfg.AllowConvertedRead, mode)
		}
		return legacy, nil
	}
	if mode == "" {
		return ConvertedStrict, nil
	}
	return mode, nil
}

func resolveRoot(raw, baseDir string) string {
	path := expandPath(raw)
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Clean(path)
}

// CanRead reports whether path is under any read root or any write root.
// Write permission implies read permission.
func (p *Permissions) CanRead(path string) bool {
	if !p.Explicit {
		return true
	}
	path = resolveRoot(path, "")
	for _, root := range p.ReadRoots {
		if underRoot(root, path) {
			return true
		}
	}
	for _, root := range p.WriteRoots {
		if underRoot(root, path) {
			return true
		}
	}
	return false
}

// CanWrite reports whether path is under any write root.
func (p *Permissions) CanWrite(path string) bool {
	if !p.Explicit {
		return true
	}
	path = resolveRoot(path, "")
	for _, root := range p.WriteRoots {
		if underRoot(root, path) {
			return true
		}
	}
	return false
}

// Clone returns an owned deep copy. Mutating the clone never affects the
// original; spawned children must always receive a clone.
func (p *Permissions) Clone() *Permissions {
	out := &Permissions{
		Explicit:        p.Explicit,
		ConvertedAccess: p.ConvertedAccess,
	}
	out.ReadRoots = append([]string(nil), p.ReadRoots...)
	out.WriteRoots = append([]string(nil), p.WriteRoots...)
	return out
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return path
}

func underRoot(root, path string) bool {
	if root == "" {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}
