package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/zulandar/gavel/internal/config"
)

func newSetupCmd() *cobra.Command {
	var (
		outputPath string
		platform   string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactively write a gavel.yaml config file",
		Long:  "Prompts for the platform, bot tokens, and guild, then writes a starter config. Tokens are read with terminal echo disabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, outputPath, platform, force)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "gavel.yaml", "path to write the config file")
	cmd.Flags().StringVar(&platform, "platform", "", "chat platform (discord or slack); prompted if omitted")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func runSetup(cmd *cobra.Command, outputPath, plat string, force bool) error {
	out := cmd.OutOrStdout()

	if _, err := os.Stat(outputPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", outputPath)
	}

	reader := bufio.NewReader(cmd.InOrStdin())

	if plat == "" {
		plat = promptLine(out, reader, "Platform (discord/slack) [discord]: ")
		if plat == "" {
			plat = "discord"
		}
	}

	cfg := &config.Config{Platform: plat}
	switch plat {
	case "discord":
		tok, err := promptSecret(out, reader, "Discord bot token: ")
		if err != nil {
			return err
		}
		cfg.Discord.Token = tok
	case "slack":
		app, err := promptSecret(out, reader, "Slack app token (xapp-...): ")
		if err != nil {
			return err
		}
		bot, err := promptSecret(out, reader, "Slack bot token (xoxb-...): ")
		if err != nil {
			return err
		}
		cfg.Slack.AppToken = app
		cfg.Slack.BotToken = bot
	default:
		return fmt.Errorf("unsupported platform %q (use discord or slack)", plat)
	}

	cfg.GuildID = promptLine(out, reader, "Destination guild/workspace ID: ")
	channel := promptLine(out, reader, "Origin channel ID (where disputes are raised): ")
	role := promptLine(out, reader, "Activation role ID (mentioning it opens a hearing): ")
	cfg.Origins = []config.OriginConfig{{ChannelID: channel, ActivationRoleID: role}}

	arbiters := promptLine(out, reader, "Arbiter role IDs (comma-separated): ")
	for _, id := range strings.Split(arbiters, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.Roster.ArbiterRoleIDs = append(cfg.Roster.ArbiterRoleIDs, id)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", outputPath, err)
	}

	fmt.Fprintf(out, "Wrote %s\n", outputPath)
	fmt.Fprintf(out, "Fill in case_log, dashboard, and reminder sections as needed, then run: gavel serve -c %s\n", outputPath)
	return nil
}

// promptLine prints the prompt and reads one trimmed line.
func promptLine(out io.Writer, reader *bufio.Reader, prompt string) string {
	fmt.Fprint(out, prompt)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// promptSecret reads a token with echo disabled when stdin is a terminal,
// falling back to a plain line read for pipes and tests.
func promptSecret(out io.Writer, reader *bufio.Reader, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptLine(out, reader, prompt), nil
	}
	fmt.Fprint(out, prompt)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
