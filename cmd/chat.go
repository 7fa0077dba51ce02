package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/llmc-dev/llmc/internal/llm"
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt...]",
	Short: "Send a chat prompt to a provider",
	Long: `Send a prompt and print the completion.

The model is resolved in order: alias, explicit provider:model, then
the configured default provider. With no prompt arguments the prompt
is read from stdin.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringP("model", "m", "", "model to use (alias, provider:model, or bare name)")
	chatCmd.Flags().StringP("provider", "p", "", "provider for bare model names")
	chatCmd.Flags().StringP("system", "s", "", "system prompt")
	chatCmd.Flags().Int("max-tokens", 0, "maximum tokens to generate")
	chatCmd.Flags().Float64("temperature", -1, "sampling temperature")
	chatCmd.Flags().Bool("no-stream", false, "wait for the full response instead of streaming")
}

func runChat(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")
	if prompt == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read prompt from stdin: %w", err)
		}

		prompt = strings.TrimSpace(string(data))
	}

	if prompt == "" {
		return fmt.Errorf("no prompt given")
	}

	modelRef, _ := cmd.Flags().GetString("model")
	providerFlag, _ := cmd.Flags().GetString("provider")

	provider, model, err := resolveTarget(providerFlag, modelRef)
	if err != nil {
		return err
	}

	req := &llm.ChatRequest{}

	if system, _ := cmd.Flags().GetString("system"); system != "" {
		req.Messages = append(req.Messages, llm.SystemMessage(system))
	}

	req.Messages = append(req.Messages, llm.UserMessage(prompt))

	if maxTokens, _ := cmd.Flags().GetInt("max-tokens"); maxTokens > 0 {
		req.MaxTokens = &maxTokens
	}

	if temp, _ := cmd.Flags().GetFloat64("temperature"); temp >= 0 {
		req.Temperature = &temp
	}

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		printTargetHeader(provider, model)
	}

	cl := newClient()
	if rec := openUsage(cl); rec != nil {
		defer rec.Close()
	}

	noStream, _ := cmd.Flags().GetBool("no-stream")
	if noStream {
		resp, err := cl.Chat(cmd.Context(), provider, model, req)
		if err != nil {
			return err
		}

		fmt.Println(resp.Content)

		return nil
	}

	err = cl.ChatStream(cmd.Context(), provider, model, req, func(chunk *llm.ChatChunk) error {
		fmt.Print(chunk.Content)
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Println()

	return nil
}

func printTargetHeader(provider, model string) {
	color.New(color.FgCyan).Fprintf(os.Stderr, "%s:%s\n", provider, model)
}
