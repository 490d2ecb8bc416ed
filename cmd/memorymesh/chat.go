package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/memorymesh/engine"
	"github.com/hupe1980/memorymesh/memory"
	"github.com/hupe1980/memorymesh/runner"
)

var (
	chatUser   string
	chatThread string
	chatSearch bool
	chatStream bool
	chatTrace  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant in the terminal",
	Long: `Start an interactive chat. Type a message and press enter.

Commands:
  /memories  show what is remembered about you
  /exit      leave the chat`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "local", "user id")
	chatCmd.Flags().StringVar(&chatThread, "thread", "", "thread id (default thread_<user>)")
	chatCmd.Flags().BoolVar(&chatSearch, "search", false, "allow web search")
	chatCmd.Flags().BoolVar(&chatStream, "stream", true, "print the answer as it is generated")
	chatCmd.Flags().BoolVar(&chatTrace, "trace", false, "print the execution trace after each answer")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())

		switch text {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/memories":
			records, err := a.memory.List(ctx, chatUser)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, memory.FormatPanel(records))
			continue
		}

		events, err := a.runner.RunTurn(ctx, runner.TurnRequest{
			UserID:       chatUser,
			ThreadID:     chatThread,
			Text:         text,
			EnableSearch: chatSearch && cfg.Search.Enabled,
			Streaming:    chatStream,
		})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printTurn(out, events)

		if ctx.Err() != nil {
			return nil
		}
	}
}

// printTurn writes partial answers incrementally and the final answer once.
func printTurn(out io.Writer, events <-chan engine.Event) {
	var printed string
	for ev := range events {
		switch ev.Kind {
		case engine.EventPartial:
			if strings.HasPrefix(ev.Partial, printed) {
				fmt.Fprint(out, ev.Partial[len(printed):])
			} else {
				fmt.Fprint(out, "\n", ev.Partial)
			}
			printed = ev.Partial
		case engine.EventFinal:
			f := ev.Final
			switch {
			case printed == "":
				fmt.Fprintln(out, f.Answer)
			case f.Answer != printed:
				fmt.Fprint(out, "\n", f.Answer, "\n")
			default:
				fmt.Fprintln(out)
			}
			if chatTrace {
				for _, line := range f.Trace {
					fmt.Fprintf(out, "  %s\n", line)
				}
			}
		}
	}
}
