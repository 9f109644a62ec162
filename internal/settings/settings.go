// Package settings loads the host settings file that tells hostwarden
// where its state lives and how to listen.
package settings

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/hostwarden/internal/audit"
)

// EnvPath names the environment variable consulted when no explicit
// settings path is given.
const EnvPath = "HOSTWARDEN_SETTINGS"

// Settings is the host settings document.
type Settings struct {
	ConfigPath    string        `yaml:"config_path" validate:"required"`
	Audit         Audit         `yaml:"audit"`
	Anonymization Anonymization `yaml:"anonymization"`
	HTTP          Listener      `yaml:"http"`
	Health        Listener      `yaml:"health"`
	Log           Log           `yaml:"log"`
}

// Audit configures the audit log.
type Audit struct {
	Path         string `yaml:"path" validate:"required"`
	MaxSizeBytes int64  `yaml:"max_size_bytes" validate:"gte=0"`
	MaxFiles     int    `yaml:"max_files" validate:"gte=0,lte=100"`
}

// Anonymization configures the PII engine.
type Anonymization struct {
	MappingPath string   `yaml:"mapping_path"`
	SafeFields  []string `yaml:"safe_fields" validate:"dive,required"`
}

// Listener is a network listen address. Empty disables the listener.
type Listener struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// Log configures the process logger.
type Log struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// Dir returns the default state directory, ~/.hostwarden.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hostwarden"
	}
	return filepath.Join(home, ".hostwarden")
}

// Default returns settings rooted in Dir().
func Default() *Settings {
	dir := Dir()
	return &Settings{
		ConfigPath: filepath.Join(dir, "config.json"),
		Audit: Audit{
			Path:         filepath.Join(dir, "audit.jsonl"),
			MaxSizeBytes: audit.DefaultMaxSize,
			MaxFiles:     audit.DefaultMaxFiles,
		},
		Anonymization: Anonymization{
			MappingPath: filepath.Join(dir, "pii-mapping.json"),
		},
		HTTP:   Listener{Addr: "127.0.0.1:7340"},
		Health: Listener{Addr: "127.0.0.1:7341"},
		Log:    Log{Level: "info"},
	}
}

// Resolve returns the settings path to use: explicit, then $HOSTWARDEN_SETTINGS,
// then ~/.hostwarden/settings.yaml.
func Resolve(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	return filepath.Join(Dir(), "settings.yaml")
}

// Load reads settings from path layered over Default(). A missing file
// yields the defaults; a malformed or invalid file is an error.
func Load(path string) (*Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrapf(err, "read settings %s", path)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, "parse settings %s", path)
	}
	s.expand()
	if err := s.Validate(); err != nil {
		return nil, errors.Wrapf(err, "settings %s", path)
	}
	return s, nil
}

var validate = validator.New()

// Validate checks the struct tags.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Namespace()+": failed "+fe.Tag())
			}
			return errors.Newf("invalid settings: %s", strings.Join(msgs, "; "))
		}
		return errors.Wrap(err, "invalid settings")
	}
	return nil
}

func (s *Settings) expand() {
	for _, p := range []*string{&s.ConfigPath, &s.Audit.Path, &s.Anonymization.MappingPath} {
		*p = expandHome(*p)
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return p
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return p
}
