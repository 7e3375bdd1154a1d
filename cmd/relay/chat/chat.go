// Package chatcmder provides the chat command for interactive conversation
// through a relay server.
package chatcmder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pjgq/relay/pkg/cliui"
	"github.com/pjgq/relay/pkg/config"
	"github.com/pjgq/relay/pkg/credentials"
	"github.com/pjgq/relay/pkg/logger"
)

var (
	userPrompt      = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	assistantPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("assistant> ")
)

type chatCommander struct {
	target string
	botID  string
	plain  bool
	debug  bool

	token  string
	logger *zap.Logger
}

// streamRequest is the relay's stream endpoint request format.
type streamRequest struct {
	Prompt string `json:"prompt"`
	BotID  string `json:"bot_id,omitempty"`
}

// streamFrame is a single data frame of the relay's event stream.
type streamFrame struct {
	Content string `json:"content"`
	Error   string `json:"error"`
}

const chatLongDesc string = `Start an interactive chat session through a relay server.

Each message is sent to the relay, which forwards it to the upstream
assistant along with recent conversation history and streams back the
cleaned reply. Requires a stored access token from "relay login".

Responses are rendered as markdown unless --plain is given.

Examples:
  relay chat
  relay chat --target http://relay.example.com:8080
  relay chat --bot-id 7372
  relay chat --plain`

const chatShortDesc string = "Interactive chat through a relay server"

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			cfger, err := config.NewConfiger(configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cfg, err := cfger.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if !cmd.Flags().Changed("target") {
				cmder.target = cfg.Client.Target
			}

			mgr, err := credentials.NewManager(configDir)
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}

			cmder.token, err = mgr.GetToken()
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}
			if cmder.token == "" {
				return errors.New("no stored access token; run 'relay login' first")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	defaults := config.NewDefaultConfig()
	cmd.Flags().StringVarP(&cmder.target, "target", "t", defaults.Client.Target, "Relay server URL")
	cmd.Flags().StringVar(&cmder.botID, "bot-id", "", "Override the upstream bot ID for this session")
	cmd.Flags().BoolVar(&cmder.plain, "plain", false, "Print replies without markdown rendering")

	return cmd
}

func (c *chatCommander) run() error {
	c.logger = logger.NewLogger(c.debug)
	defer func() { _ = c.logger.Sync() }()

	fmt.Println()
	fmt.Printf("  %s %s\n",
		cliui.KeyStyle.Render("Relay:"),
		cliui.NameStyle.Render(c.target),
	)
	fmt.Printf("  %s\n\n", cliui.DimStyle.Render("Type your message and press Enter. /exit or Ctrl+D to quit."))

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(userPrompt)
		if !scanner.Scan() {
			// EOF or error
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/exit" {
			break
		}

		if err := c.sendAndPrint(input); err != nil {
			fmt.Fprintf(os.Stderr, "  %s %v\n", cliui.FailMark, err)
			continue
		}
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	fmt.Println()
	return nil
}

// sendAndPrint sends a prompt to the relay's stream endpoint and prints the
// reconstructed reply.
func (c *chatCommander) sendAndPrint(prompt string) error {
	body, err := json.Marshal(streamRequest{Prompt: prompt, BotID: c.botID})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	c.logger.Debug("sending stream request",
		zap.String("target", c.target),
		zap.Int("prompt_length", len(prompt)),
	)

	url := strings.TrimRight(c.target, "/") + "/stream"
	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	client := &http.Client{
		// Upstream replies can be slow
		Timeout: 5 * time.Minute,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending request to relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errors.New("token rejected; run 'relay login' to refresh it")
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("relay returned status %d: %s", resp.StatusCode, string(respBody))
	}

	reply, err := c.readStream(resp.Body)
	if err != nil {
		return err
	}

	fmt.Print(assistantPrompt)
	if c.plain {
		fmt.Println(reply)
		return nil
	}

	rendered, err := cliui.RenderMarkdown(reply)
	if err != nil {
		c.logger.Debug("markdown rendering failed", zap.Error(err))
		fmt.Println(reply)
		return nil
	}
	fmt.Print(rendered)

	return nil
}

// readStream consumes the relay's event stream and returns the concatenated
// reply content. A frame carrying an error aborts the read.
func (c *chatCommander) readStream(body io.Reader) (string, error) {
	var reply strings.Builder

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			c.logger.Debug("skipping unexpected stream line", zap.String("line", line))
			continue
		}

		if payload == "[DONE]" {
			break
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			c.logger.Debug("failed to parse stream frame",
				zap.Error(err),
				zap.String("payload", payload),
			)
			continue
		}

		if frame.Error != "" {
			return reply.String(), fmt.Errorf("relay error: %s", frame.Error)
		}

		if frame.Content != "" {
			reply.WriteString(frame.Content)
		}
	}

	if err := scanner.Err(); err != nil {
		return reply.String(), fmt.Errorf("reading stream: %w", err)
	}

	return reply.String(), nil
}
