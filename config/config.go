// Package config holds the single Config struct a caller fills in to
// build a forest, mirroring the way friggdb.Config is a plain
// YAML-tagged struct validated once at construction and never
// re-validated downstream.
package config

import (
	"github.com/pkg/errors"

	"github.com/rcf-go/rcfcore/rcferrors"
)

// Precision selects how ingested values are rounded. Float32 rounds
// every value to float32 precision on Add; the flat store holds
// float64 values in both modes, so memory per stored value is the same
// either way.
type Precision int

const (
	Float32 Precision = iota
	Float64
)

// Config collects every option recognized by the core.
type Config struct {
	Dimensions int `yaml:"dimensions"`
	ShingleSize int `yaml:"shingle-size"`

	Capacity   int `yaml:"capacity"`
	SampleSize int `yaml:"sample-size"`

	NumberOfTrees int `yaml:"number-of-trees"`

	TimeDecay             float64 `yaml:"time-decay"`
	InitialAcceptFraction float64 `yaml:"initial-accept-fraction"`

	RandomSeed int64 `yaml:"random-seed"`

	InternalShinglingEnabled bool `yaml:"internal-shingling-enabled"`
	InternalRotationEnabled  bool `yaml:"internal-rotation-enabled"`
	DirectLocationMap        bool `yaml:"direct-location-map"`
	DynamicResizingEnabled   bool `yaml:"dynamic-resizing-enabled"`

	Precision Precision `yaml:"precision"`

	StoreSequenceIndexesEnabled bool `yaml:"store-sequence-indexes-enabled"`
}

// BaseDimension is dimensions / shingleSize, derived rather than stored.
func (c *Config) BaseDimension() int {
	if c.ShingleSize == 0 {
		return 0
	}
	return c.Dimensions / c.ShingleSize
}

// Validate checks the invariants required of every field,
// returning a classified rcferrors.Error on the first violation found.
func (c *Config) Validate() error {
	if c.Dimensions <= 0 {
		return rcferrors.New(rcferrors.InvalidArgument, "dimensions must be > 0")
	}
	if c.ShingleSize <= 0 {
		return rcferrors.New(rcferrors.InvalidArgument, "shingleSize must be >= 1")
	}
	if c.Dimensions%c.ShingleSize != 0 {
		return rcferrors.New(rcferrors.InvalidArgument, "shingleSize must divide dimensions")
	}
	if c.Capacity <= 0 {
		return rcferrors.New(rcferrors.InvalidArgument, "capacity must be > 0")
	}
	if c.SampleSize <= 0 {
		return rcferrors.New(rcferrors.InvalidArgument, "sampleSize must be > 0")
	}
	if c.SampleSize > c.Capacity {
		return rcferrors.New(rcferrors.InvalidArgument, "sampleSize must not exceed capacity")
	}
	if c.NumberOfTrees <= 0 {
		return rcferrors.New(rcferrors.InvalidArgument, "numberOfTrees must be > 0")
	}
	if c.TimeDecay < 0 {
		return rcferrors.New(rcferrors.InvalidArgument, "timeDecay must be >= 0")
	}
	if c.InitialAcceptFraction <= 0 || c.InitialAcceptFraction > 1 {
		return rcferrors.New(rcferrors.InvalidArgument, "initialAcceptFraction must be in (0, 1]")
	}
	// DirectLocationMap with ShingleSize > 1 is legal: the caller is
	// choosing handle*dimensions addressing over overlap sharing.
	if c.InternalRotationEnabled && !c.InternalShinglingEnabled {
		return rcferrors.New(rcferrors.InvalidArgument, "internalRotationEnabled requires internalShinglingEnabled")
	}
	return nil
}

// WithDefaults returns a copy of c with zero-valued optional fields
// filled in the way friggdb.defaultConfig fills pool defaults.
func (c Config) WithDefaults() Config {
	if c.InitialAcceptFraction == 0 {
		c.InitialAcceptFraction = 1
	}
	return c
}

// Wrap is a small convenience so callers constructing sub-component
// configs can attach a stage name to a validation failure without
// importing pkg/errors themselves.
func Wrap(err error, stage string) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "config: %s", stage)
}
