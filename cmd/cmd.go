package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/qwenrun/qwenrun/envconfig"
	"github.com/qwenrun/qwenrun/logutil"
	"github.com/qwenrun/qwenrun/sample"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "qwenrun",
		Short: "Run Qwen 3 language models on the CPU",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			logutil.Install(os.Stderr, envconfig.LogLevel())
		},
	}

	cobra.EnableCommandSorting = false

	runCmd := &cobra.Command{
		Use:   "run MODEL [PROMPT]",
		Short: "Generate text from a prompt",
		Long:  "Generate text from a prompt. The prompt is read from the arguments and from stdin when it is not a terminal.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  RunHandler,
	}

	runCmd.Flags().Int("max-tokens", 0, "Maximum number of tokens to generate (0 runs until a stop token or the end of the context)")
	defaults := sample.DefaultPolicy()
	runCmd.Flags().Float64("temperature", defaults.Temperature, "Sampling temperature, 0 for greedy decoding")
	runCmd.Flags().Int("top-k", defaults.TopK, "Sample from the k most likely tokens, 0 to disable")
	runCmd.Flags().Float64("top-p", defaults.TopP, "Sample from the smallest set of tokens whose probability reaches p")
	runCmd.Flags().Int64("seed", 0, "Random seed for reproducible sampling")
	runCmd.Flags().StringArray("stop", nil, "Stop generating when this text is produced (repeatable)")
	runCmd.Flags().String("options", "", "YAML file with generation options")
	runCmd.Flags().Bool("raw", false, "Send the prompt without the chat template")
	runCmd.Flags().Bool("verbose", false, "Show timings for the response")

	showCmd := &cobra.Command{
		Use:   "show [MODEL]",
		Short: "Show information for a model",
		Args:  cobra.MaximumNArgs(1),
		RunE:  ShowHandler,
	}

	showCmd.Flags().Bool("tensors", false, "Show tensors")
	showCmd.Flags().Bool("env", false, "Show environment configuration")

	tokenizeCmd := &cobra.Command{
		Use:   "tokenize MODEL TEXT",
		Short: "Show the token ids for text",
		Args:  cobra.MinimumNArgs(2),
		RunE:  TokenizeHandler,
	}

	tokenizeCmd.Flags().Bool("pieces", false, "Show the text of each token")

	rootCmd.AddCommand(runCmd, showCmd, tokenizeCmd)
	return rootCmd
}
