package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/anonmanager/anonmanager/internal/types"
)

// Profile holds the tunables that are not part of the literal network
// topology: everything a user might reasonably want to adjust per
// deployment without touching the isolation fabric itself.
type Profile struct {
	Name string `yaml:"-" envconfig:"-"`

	BootstrapTimeoutSeconds int      `yaml:"bootstrap_timeout_seconds" envconfig:"BOOTSTRAP_TIMEOUT_SECONDS" validate:"min=30,max=600"`
	WatchdogPeriodSeconds   int      `yaml:"watchdog_period_seconds" envconfig:"WATCHDOG_PERIOD_SECONDS" validate:"min=5,max=300"`
	LogLevel                string   `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	EgressInterface         string   `yaml:"egress_interface" envconfig:"EGRESS_INTERFACE" validate:"omitempty,hostname_rfc1123|max=15"`
	ExtraDoHBlocklist       []string `yaml:"extra_doh_blocklist" envconfig:"EXTRA_DOH_BLOCKLIST" validate:"dive,ip"`
	ExtraWebRTCPorts        []string `yaml:"extra_webrtc_ports" envconfig:"EXTRA_WEBRTC_PORTS"`
	PackageManagerOverride  string   `yaml:"package_manager_override" envconfig:"PACKAGE_MANAGER_OVERRIDE" validate:"omitempty,oneof=apt pacman dnf"`
	HistoryKey              string   `yaml:"history_key" envconfig:"HISTORY_KEY" validate:"omitempty,min=16"`
}

// DefaultProfile returns the "default" profile's baked-in values, used when
// no profile file exists and as the base onto which a file and environment
// overlay apply.
func DefaultProfile() Profile {
	return Profile{
		Name:                    "default",
		BootstrapTimeoutSeconds: 180,
		WatchdogPeriodSeconds:   30,
		LogLevel:                "info",
		EgressInterface:         "",
		ExtraDoHBlocklist:       nil,
		ExtraWebRTCPorts:        nil,
		PackageManagerOverride:  "",
		HistoryKey:              "",
	}
}

// ProfilesDir returns the directory profile files are read from, honoring
// $ANONMANAGER_HOME if set (test seams use this), defaulting to
// ~/.anonmanager/profiles.
func ProfilesDir() (string, error) {
	if home := os.Getenv("ANONMANAGER_HOME"); home != "" {
		return filepath.Join(home, "profiles"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".anonmanager", "profiles"), nil
}

// LoadProfile loads the named profile: defaults, overlaid with
// ~/.anonmanager/profiles/<name>.yaml if present, overlaid with
// ANONMANAGER_* environment variables, then validated. A missing file is
// not an error — the defaults (and any env overlay) still apply. A present
// but malformed file, or a profile that fails validation, is a StepFault:
// unlike RuntimeState's tolerant per-key parsing, a Profile is read once at
// startup and never hot-patched, so there is no safe partial value to fall
// back to.
func LoadProfile(name string) (Profile, error) {
	if name == "" {
		name = "default"
	}
	p := DefaultProfile()
	p.Name = name

	dir, err := ProfilesDir()
	if err != nil {
		return Profile{}, types.NewFault(types.ErrStepFault, "resolve profiles directory", "set $HOME or $ANONMANAGER_HOME", err)
	}
	path := filepath.Join(dir, name+".yaml")

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &p); err != nil {
			return Profile{}, types.NewFault(types.ErrStepFault,
				fmt.Sprintf("parse profile %s: %v", path, err), fmt.Sprintf("fix the YAML syntax in %s", path), err)
		}
		p.Name = name
	} else if !os.IsNotExist(err) {
		return Profile{}, types.NewFault(types.ErrStepFault,
			fmt.Sprintf("read profile %s", path), "check file permissions", err)
	}

	if err := envconfig.Process("ANONMANAGER", &p); err != nil {
		return Profile{}, types.NewFault(types.ErrStepFault, "apply environment overrides", "check ANONMANAGER_* environment variables", err)
	}

	if err := p.Validate(); err != nil {
		return Profile{}, types.NewFault(types.ErrStepFault,
			fmt.Sprintf("profile %q is invalid: %v", name, err), "fix the profile file or environment overrides", err)
	}
	return p, nil
}

var validate = validator.New()

// Validate runs struct-tag validation and aggregates every violation into a
// single multi-line error, in the teacher's Validate() style.
func (p Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		var lines []string
		for _, fe := range verrs {
			lines = append(lines, fmt.Sprintf("%s: failed %q constraint (got %v)", fe.Field(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("%s", strings.Join(lines, "; "))
	}
	return nil
}
