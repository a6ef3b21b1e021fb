package llm

import (
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

const (
	// MaxTokensLimit bounds Options.MaxTokens.
	MaxTokensLimit = 4096
	// MaxStopSequences is the most stop sequences a chat completions backend accepts.
	MaxStopSequences = 4
)

// Options are the generation knobs sent with every completion request.
type Options struct {
	MaxTokens     int      `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature   float64  `mapstructure:"temperature" json:"temperature"`
	StopSequences []string `mapstructure:"stop_sequences" json:"stop_sequences,omitempty"`
}

// DefaultOptions returns deterministic settings suited for SQL generation.
func DefaultOptions() Options {
	return Options{
		MaxTokens:   256,
		Temperature: 0,
	}
}

// Validate checks the bounds of every field.
func (o Options) Validate() error {
	var errs []error
	if o.MaxTokens < 1 || o.MaxTokens > MaxTokensLimit {
		errs = append(errs, fmt.Errorf("max_tokens must be in [1, %d], got %d", MaxTokensLimit, o.MaxTokens))
	}
	if o.Temperature < 0 || o.Temperature > 1 {
		errs = append(errs, fmt.Errorf("temperature must be in [0, 1], got %g", o.Temperature))
	}
	if len(o.StopSequences) > MaxStopSequences {
		errs = append(errs, fmt.Errorf("at most %d stop_sequences allowed, got %d", MaxStopSequences, len(o.StopSequences)))
	}
	for i, s := range o.StopSequences {
		if s == "" {
			errs = append(errs, fmt.Errorf("stop_sequences[%d] is empty", i))
		}
	}
	return errors.Join(errs...)
}

// ParseOptions decodes raw on top of base. Keys other than max_tokens,
// temperature and stop_sequences are rejected.
func ParseOptions(raw map[string]any, base Options) (Options, error) {
	out := base
	if len(base.StopSequences) > 0 {
		out.StopSequences = append([]string(nil), base.StopSequences...)
	}
	if len(raw) > 0 {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &out,
			ErrorUnused:      true,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToSliceHookFunc(","),
		})
		if err != nil {
			return Options{}, fmt.Errorf("build options decoder: %w", err)
		}
		if err := dec.Decode(raw); err != nil {
			return Options{}, fmt.Errorf("decode generation options: %w", err)
		}
	}
	if err := out.Validate(); err != nil {
		return Options{}, fmt.Errorf("invalid generation options: %w", err)
	}
	return out, nil
}
