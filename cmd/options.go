package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/qwenrun/qwenrun/sample"
)

// runOptions are the generation options of the run command. They can be
// read from a YAML file; flags set on the command line take precedence.
type runOptions struct {
	MaxTokens   int      `yaml:"max_tokens"`
	Temperature float64  `yaml:"temperature"`
	TopK        int      `yaml:"top_k"`
	TopP        float64  `yaml:"top_p"`
	Seed        *int64   `yaml:"seed"`
	Stop        []string `yaml:"stop"`
	Raw         bool     `yaml:"raw"`
}

func defaultRunOptions() runOptions {
	p := sample.DefaultPolicy()
	return runOptions{
		Temperature: p.Temperature,
		TopK:        p.TopK,
		TopP:        p.TopP,
	}
}

func readRunOptions(path string, opts *runOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	d := yaml.NewDecoder(f)
	d.KnownFields(true)
	if err := d.Decode(opts); err != nil {
		return fmt.Errorf("options %s: %w", path, err)
	}

	return nil
}

func loadRunOptions(cmd *cobra.Command) (runOptions, error) {
	opts := defaultRunOptions()

	flags := cmd.Flags()
	if path, err := flags.GetString("options"); err != nil {
		return opts, err
	} else if path != "" {
		if err := readRunOptions(path, &opts); err != nil {
			return opts, err
		}
	}

	var err error
	if flags.Changed("max-tokens") {
		if opts.MaxTokens, err = flags.GetInt("max-tokens"); err != nil {
			return opts, err
		}
	}

	if flags.Changed("temperature") {
		if opts.Temperature, err = flags.GetFloat64("temperature"); err != nil {
			return opts, err
		}
	}

	if flags.Changed("top-k") {
		if opts.TopK, err = flags.GetInt("top-k"); err != nil {
			return opts, err
		}
	}

	if flags.Changed("top-p") {
		if opts.TopP, err = flags.GetFloat64("top-p"); err != nil {
			return opts, err
		}
	}

	if flags.Changed("seed") {
		seed, err := flags.GetInt64("seed")
		if err != nil {
			return opts, err
		}
		opts.Seed = &seed
	}

	if flags.Changed("stop") {
		if opts.Stop, err = flags.GetStringArray("stop"); err != nil {
			return opts, err
		}
	}

	if flags.Changed("raw") {
		if opts.Raw, err = flags.GetBool("raw"); err != nil {
			return opts, err
		}
	}

	return opts, nil
}

// policy maps the options onto a sampling policy. A temperature of zero
// selects greedy decoding.
func (o runOptions) policy() sample.Policy {
	if o.Temperature == 0 {
		return sample.Policy{Greedy: true}
	}

	return sample.Policy{
		Temperature: o.Temperature,
		TopK:        o.TopK,
		TopP:        o.TopP,
		Seed:        o.Seed,
	}
}
