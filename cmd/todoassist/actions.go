package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"todoassist/internal/app"
	"todoassist/internal/assistant"
	"todoassist/internal/domain"
	"todoassist/internal/engine"
	"todoassist/internal/repo"
	todoassistsdk "todoassist/sdk/go"
)

type outcomeView struct {
	Type    string
	Success bool
	Detail  string
}

type applyView struct {
	Reply    string
	RunID    string
	Success  bool
	Error    string
	Outcomes []outcomeView
}

func viewFromReport(r engine.Report) applyView {
	v := applyView{Reply: r.Reply(), RunID: r.RunID, Success: r.Success, Error: r.Error}
	for _, o := range r.Outcomes {
		v.Outcomes = append(v.Outcomes, outcomeView{Type: string(o.Type), Success: o.Success, Detail: o.Message + o.Error})
	}
	return v
}

func viewFromResult(r todoassistsdk.ApplyResult) applyView {
	v := applyView{Reply: r.Reply, RunID: r.RunID, Success: r.Success, Error: r.Error}
	for _, o := range r.ActionsExecuted {
		v.Outcomes = append(v.Outcomes, outcomeView{Type: o.Type, Success: o.Success, Detail: o.Message + o.Error})
	}
	return v
}

func reportJSON(r engine.Report) map[string]any {
	return map[string]any{
		"reply":            r.Reply(),
		"actions_executed": r.Outcomes,
		"run_id":           r.RunID,
		"success":          r.Success,
		"error":            r.Error,
	}
}

func printApply(v applyView) {
	fmt.Println(v.Reply)
	if !v.Success {
		fmt.Println("error:", v.Error)
	}
	if len(v.Outcomes) == 0 {
		return
	}
	fmt.Println()
	tw := newTable()
	tw.AppendHeader(table.Row{"Action", "OK", "Detail"})
	for _, o := range v.Outcomes {
		tw.AppendRow(table.Row{o.Type, doneMark(o.Success), o.Detail})
	}
	tw.AppendFooter(table.Row{"run", "", v.RunID})
	tw.Render()
}

func readInput(args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(args[0])
	return string(data), err
}

func applyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply [file|-]",
		Short: "Execute the directives embedded in an assistant reply",
		Long:  "Reads an assistant reply from a file or stdin, runs every embedded directive and prints the outcome of each.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(args)
			if err != nil {
				return err
			}
			if client := remoteClient(); client != nil {
				res, err := client.ApplyReply(cmd.Context(), text)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printApply(viewFromResult(res))
				return nil
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report := a.Engine.ApplyReply(ctx, text)
				if viper.GetBool("json") {
					return printJSON(reportJSON(report))
				}
				printApply(viewFromReport(report))
				return nil
			})
		},
	}
}

// localChat asks the assistant with the current task list as context and applies its reply.
func localChat(ctx context.Context, a *app.App, history []assistant.Message, message string) (engine.Report, string, error) {
	client := a.Assistant()
	if client == nil {
		return engine.Report{}, "", errNoAssistant
	}
	loc, err := a.Config.Notify.Location()
	if err != nil {
		return engine.Report{}, "", err
	}
	tasks, err := a.Engine.ListTasks(ctx, repo.TaskFilters{})
	if err != nil {
		return engine.Report{}, "", err
	}
	messages := assistant.BuildMessages(tasks, history, message, domain.DateOf(time.Now().In(loc)))
	callCtx, cancel := context.WithTimeout(ctx, a.Config.Assistant.Timeout)
	defer cancel()
	reply, err := client.Complete(callCtx, messages)
	if err != nil {
		return engine.Report{}, "", err
	}
	return a.Engine.ApplyReply(ctx, reply), reply, nil
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the assistant; directives in its replies are applied",
		Long:  "With a message, sends one turn. Without one, starts an interactive session that keeps the conversation history until EOF.",
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.TrimSpace(strings.Join(args, " "))
			if client := remoteClient(); client != nil {
				return remoteChat(cmd.Context(), client, message)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var history []assistant.Message
				turn := func(msg string) error {
					report, raw, err := localChat(ctx, a, history, msg)
					if err != nil {
						return err
					}
					history = append(history,
						assistant.Message{Role: assistant.RoleUser, Content: msg},
						assistant.Message{Role: assistant.RoleAssistant, Content: raw},
					)
					if viper.GetBool("json") {
						return printJSON(reportJSON(report))
					}
					printApply(viewFromReport(report))
					return nil
				}
				if message != "" {
					return turn(message)
				}
				return repl(ctx, turn)
			})
		},
	}
}

func remoteChat(ctx context.Context, client *todoassistsdk.Client, message string) error {
	var history []todoassistsdk.ChatMessage
	turn := func(msg string) error {
		res, err := client.Chat(ctx, msg, history)
		if err != nil {
			return err
		}
		history = append(history,
			todoassistsdk.ChatMessage{Role: assistant.RoleUser, Content: msg},
			todoassistsdk.ChatMessage{Role: assistant.RoleAssistant, Content: res.Reply},
		)
		if viper.GetBool("json") {
			return printJSON(res)
		}
		printApply(viewFromResult(res))
		return nil
	}
	if message != "" {
		return turn(message)
	}
	return repl(ctx, turn)
}

func repl(ctx context.Context, turn func(string) error) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := turn(line); err != nil {
			fmt.Println("error:", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
