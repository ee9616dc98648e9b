// Package prompt holds the generation parameters a probe submits with each
// job.
//
// Parameters are forwarded to the backend verbatim; the probe does not
// interpret them beyond basic sanity checks.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults match the reference workload: a 512x512 image, 50 steps.
const (
	DefaultText              = "dog flying sky 4k front view"
	DefaultWidth             = 512
	DefaultHeight            = 512
	DefaultGuidanceScale     = 7.5
	DefaultNumInferenceSteps = 50
)

// Params is the prompt configuration for a submitted job.
type Params struct {
	Text              string  `yaml:"prompt" json:"prompt" mapstructure:"text"`
	Width             int     `yaml:"width" json:"width" mapstructure:"width"`
	Height            int     `yaml:"height" json:"height" mapstructure:"height"`
	GuidanceScale     float64 `yaml:"guidance_scale" json:"guidance_scale" mapstructure:"guidance_scale"`
	NumInferenceSteps int     `yaml:"num_inference_steps" json:"num_inference_steps" mapstructure:"num_inference_steps"`
}

// Default returns the reference prompt parameters.
func Default() Params {
	return Params{
		Text:              DefaultText,
		Width:             DefaultWidth,
		Height:            DefaultHeight,
		GuidanceScale:     DefaultGuidanceScale,
		NumInferenceSteps: DefaultNumInferenceSteps,
	}
}

// ApplyDefaults fills zero-valued fields from Default.
func (p *Params) ApplyDefaults() {
	d := Default()
	if strings.TrimSpace(p.Text) == "" {
		p.Text = d.Text
	}
	if p.Width == 0 {
		p.Width = d.Width
	}
	if p.Height == 0 {
		p.Height = d.Height
	}
	if p.GuidanceScale == 0 {
		p.GuidanceScale = d.GuidanceScale
	}
	if p.NumInferenceSteps == 0 {
		p.NumInferenceSteps = d.NumInferenceSteps
	}
}

// Validate rejects parameters no backend would accept.
func (p Params) Validate() error {
	if strings.TrimSpace(p.Text) == "" {
		return errors.New("prompt text is required")
	}
	if p.Width < 0 || p.Height < 0 {
		return fmt.Errorf("image size must not be negative (got %dx%d)", p.Width, p.Height)
	}
	if p.NumInferenceSteps < 0 {
		return fmt.Errorf("num_inference_steps must not be negative (got %d)", p.NumInferenceSteps)
	}
	if p.GuidanceScale < 0 {
		return fmt.Errorf("guidance_scale must not be negative (got %g)", p.GuidanceScale)
	}
	return nil
}

// Load reads prompt parameters from a YAML (or JSON) file and applies
// defaults to fields the file leaves unset.
func Load(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Params{}, fmt.Errorf("prompt file not found: %s", path)
		}
		return Params{}, fmt.Errorf("failed to read prompt file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses prompt parameters from YAML or JSON bytes.
func LoadFromBytes(data []byte) (Params, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Params{}, errors.New("prompt file is empty")
	}

	var p Params
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Params{}, fmt.Errorf("invalid prompt file: %w", err)
	}

	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}
