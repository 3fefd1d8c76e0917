package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/qwenrun/qwenrun/envconfig"
	"github.com/qwenrun/qwenrun/metrics"
	"github.com/qwenrun/qwenrun/ml"
	"github.com/qwenrun/qwenrun/model"
	_ "github.com/qwenrun/qwenrun/model/models"
	"github.com/qwenrun/qwenrun/progress"
	"github.com/qwenrun/qwenrun/runner"
	"github.com/qwenrun/qwenrun/sample"
)

// chatTemplate wraps prompt in a single user turn and opens the assistant
// turn.
func chatTemplate(prompt string) string {
	return "<|im_start|>user\n" + prompt + "<|im_end|>\n<|im_start|>assistant\n"
}

// readPrompt joins args, prepending stdin when it is not a terminal.
func readPrompt(in io.Reader, args []string) (string, error) {
	prompts := args
	if f, ok := in.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		b, err := io.ReadAll(in)
		if err != nil {
			return "", err
		}

		if len(b) > 0 {
			prompts = append([]string{string(b)}, prompts...)
		}
	}

	return strings.Join(prompts, " "), nil
}

func RunHandler(cmd *cobra.Command, args []string) error {
	opts, err := loadRunOptions(cmd)
	if err != nil {
		return err
	}

	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}

	prompt, err := readPrompt(cmd.InOrStdin(), args[1:])
	if err != nil {
		return err
	}

	if prompt == "" {
		return errors.New("no prompt provided")
	}

	sampler, err := sample.New(opts.policy())
	if err != nil {
		return err
	}

	m, err := loadModel(args[0])
	if err != nil {
		return err
	}

	tp, ok := m.(model.TextProcessor)
	if !ok {
		return fmt.Errorf("model %s has no tokenizer", args[0])
	}

	if !opts.Raw {
		prompt = chatTemplate(prompt)
	}

	ids, err := tp.Encode(prompt, true)
	if err != nil {
		return err
	}

	var stopTokens []int32
	if s, ok := m.(interface{ StopTokens() []int32 }); ok {
		stopTokens = s.StopTokens()
	}

	mm := metrics.New()
	seq := runner.NewSequence(m, mm)
	slog.Debug("generating", "request", seq.ID(), "prompt_tokens", len(ids))

	if err := stream(cmd.Context(), cmd.OutOrStdout(), seq, tp, ids, runner.Options{
		MaxTokens:  opts.MaxTokens,
		StopTokens: stopTokens,
		Sampler:    sampler,
	}, opts.Stop); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout())

	if verbose {
		return printSummary(cmd.ErrOrStderr(), mm)
	}

	return nil
}

// loadModel loads the model at path, drawing a progress bar on stderr when
// it is a terminal.
func loadModel(path string) (model.Model, error) {
	params := model.Params{
		Pool:          ml.NewPool(int(envconfig.NumThreads())),
		ContextLength: envconfig.ContextLength(),
	}

	if !envconfig.NoProgress() && term.IsTerminal(int(os.Stderr.Fd())) {
		var size int64
		if fi, err := os.Stat(path); err == nil {
			size = fi.Size()
		}

		p := progress.NewProgress(os.Stderr)
		defer p.StopAndClear()

		spinner := progress.NewSpinner("loading " + filepath.Base(path))
		bar := progress.NewBar("weights", size)
		p.Add(spinner)
		p.Add(bar)
		params.Progress = bar.Set
	}

	return model.New(path, params)
}

// stream writes decoded tokens to w as they are generated. Text that may
// be the start of a stop string, or an incomplete UTF-8 sequence, is held
// back until it is resolved. Generation ends at the first stop string,
// which is not written. Held text is written before a generation error is
// returned.
func stream(ctx context.Context, w io.Writer, seq *runner.Sequence, tp model.TextProcessor, prompt []int32, opts runner.Options, stops []string) error {
	var pending []string
	flush := func() error {
		_, err := io.WriteString(w, strings.Join(pending, ""))
		return err
	}

	for token, err := range seq.Generate(ctx, prompt, opts) {
		if err != nil {
			return errors.Join(err, flush())
		}

		piece, err := tp.Decode([]int32{token})
		if err != nil {
			return errors.Join(err, flush())
		}

		pending = append(pending, piece)
		sequence := strings.Join(pending, "")

		if ok, stop := runner.FindStop(sequence, stops); ok {
			slog.Debug("stop string", "request", seq.ID(), "stop", stop)
			pending, _ = runner.TruncateStop(pending, stop)
			break
		}

		if runner.ContainsStopSuffix(sequence, stops) || !utf8.ValidString(sequence) {
			continue
		}

		if _, err := io.WriteString(w, sequence); err != nil {
			return err
		}
		pending = pending[:0]
	}

	return flush()
}

func printSummary(w io.Writer, mm *metrics.Metrics) error {
	s, err := mm.Summarize()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "prompt eval count:    %d token(s)\n", s.PromptTokens)
	fmt.Fprintf(w, "prompt eval duration: %s\n", s.PromptDuration)
	fmt.Fprintf(w, "prompt eval rate:     %.2f tokens/s\n", metrics.Rate(s.PromptTokens, s.PromptDuration))
	fmt.Fprintf(w, "eval count:           %d token(s)\n", s.EvalTokens)
	fmt.Fprintf(w, "eval duration:        %s\n", s.EvalDuration)
	fmt.Fprintf(w, "eval rate:            %.2f tokens/s\n", metrics.Rate(s.EvalTokens, s.EvalDuration))
	return nil
}
