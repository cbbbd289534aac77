// Package config implements the Parameters mpool recognizes at pool init:
// media class, ownership, capacity ratios, and the runtime-directory root.
// It loads them with spf13/viper (YAML) and reaches the filesystem only
// through an injectable afero.Fs so tests never touch the real disk.
package config

import (
	"bytes"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mpool-go/mpool/internal/errs"
)

// Invalid is the distinguished sentinel meaning "leave default" for every
// integer Parameter field.
const Invalid int64 = -1

// DefaultRuntimeDir is the process-wide well-known path for per-pool
// runtime sockets and locks when Parameters.RuntimeDir is empty.
const DefaultRuntimeDir = "/var/run/mpool"

// Parameters holds the configuration values recognized at pool init. Any
// int64 field left at Invalid is resolved to a built-in default by
// Defaults.
type Parameters struct {
	MediaClass         int64  `mapstructure:"media_class" yaml:"media_class"`
	UID                int64  `mapstructure:"uid" yaml:"uid"`
	GID                int64  `mapstructure:"gid" yaml:"gid"`
	Mode               int64  `mapstructure:"mode" yaml:"mode"`
	SpareCapacityRatio int64  `mapstructure:"spare_capacity_ratio" yaml:"spare_capacity_ratio"`
	SpareStorageRatio  int64  `mapstructure:"spare_storage_ratio" yaml:"spare_storage_ratio"`
	ReadAheadPages     int64  `mapstructure:"read_ahead_pages" yaml:"read_ahead_pages"`
	MDC0Capacity       int64  `mapstructure:"mdc0_capacity" yaml:"mdc0_capacity"`
	MDCCapacity        int64  `mapstructure:"mdc_capacity" yaml:"mdc_capacity"`
	MDCCount           int64  `mapstructure:"mdc_count" yaml:"mdc_count"`
	Label              string `mapstructure:"label" yaml:"label"`
	RuntimeDir         string `mapstructure:"runtime_dir" yaml:"runtime_dir"`
}

// defaultParameters returns the built-in values used to resolve Invalid
// fields.
func defaultParameters() Parameters {
	return Parameters{
		MediaClass:         0,
		UID:                0,
		GID:                0,
		Mode:               0644,
		SpareCapacityRatio: 10,
		SpareStorageRatio:  10,
		ReadAheadPages:     8,
		MDC0Capacity:       4 << 20,
		MDCCapacity:        4 << 20,
		MDCCount:           2,
		Label:              "",
		RuntimeDir:         DefaultRuntimeDir,
	}
}

// New returns Parameters with every field at its Invalid sentinel except
// strings, which default to empty (also "leave default").
func New() Parameters {
	return Parameters{
		MediaClass:         Invalid,
		UID:                Invalid,
		GID:                Invalid,
		Mode:               Invalid,
		SpareCapacityRatio: Invalid,
		SpareStorageRatio:  Invalid,
		ReadAheadPages:     Invalid,
		MDC0Capacity:       Invalid,
		MDCCapacity:        Invalid,
		MDCCount:           Invalid,
	}
}

// Defaults resolves every Invalid (or empty-string) field in p against the
// built-in defaults, returning a fully-populated copy.
func Defaults(p Parameters) Parameters {
	d := defaultParameters()
	resolved := p
	if resolved.MediaClass == Invalid {
		resolved.MediaClass = d.MediaClass
	}
	if resolved.UID == Invalid {
		resolved.UID = d.UID
	}
	if resolved.GID == Invalid {
		resolved.GID = d.GID
	}
	if resolved.Mode == Invalid {
		resolved.Mode = d.Mode
	}
	if resolved.SpareCapacityRatio == Invalid {
		resolved.SpareCapacityRatio = d.SpareCapacityRatio
	}
	if resolved.SpareStorageRatio == Invalid {
		resolved.SpareStorageRatio = d.SpareStorageRatio
	}
	if resolved.ReadAheadPages == Invalid {
		resolved.ReadAheadPages = d.ReadAheadPages
	}
	if resolved.MDC0Capacity == Invalid {
		resolved.MDC0Capacity = d.MDC0Capacity
	}
	if resolved.MDCCapacity == Invalid {
		resolved.MDCCapacity = d.MDCCapacity
	}
	if resolved.MDCCount == Invalid {
		resolved.MDCCount = d.MDCCount
	}
	if resolved.Label == "" {
		resolved.Label = d.Label
	}
	if resolved.RuntimeDir == "" {
		resolved.RuntimeDir = d.RuntimeDir
	}
	return resolved
}

// Load reads YAML Parameters from path on fs and applies Defaults to
// whatever fields are left unset.
func Load(fs afero.Fs, path string) (Parameters, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Parameters{}, errs.WrapBackend("config.load", 0, errs.OriginPool, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return Parameters{}, errs.New("config.load", errs.CodeInvalidArgument, errs.OriginPool, "malformed parameters file: "+err.Error())
	}

	p := New()
	if err := v.Unmarshal(&p); err != nil {
		return Parameters{}, errs.New("config.load", errs.CodeInvalidArgument, errs.OriginPool, "cannot decode parameters: "+err.Error())
	}
	return Defaults(p), nil
}

// Save writes p to path on fs as YAML. The pool uses this to drop a
// snapshot of its fully-resolved parameters beside its other runtime
// artifacts, so an operator can see what a running pool actually resolved
// its Invalid sentinels to.
func Save(fs afero.Fs, path string, p Parameters) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return errs.New("config.save", errs.CodeInvalidArgument, errs.OriginPool, "cannot encode parameters: "+err.Error())
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return errs.WrapBackend("config.save", 0, errs.OriginPool, err)
	}
	return nil
}

// EnsureRuntimeDir creates dir (and any parents) on fs if it does not
// already exist.
func EnsureRuntimeDir(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return errs.WrapBackend("config.ensure-runtime-dir", 0, errs.OriginPool, err)
	}
	return nil
}
