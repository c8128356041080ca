package command

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"mocktide/internal/mapping"
)

var validateCmd = &cobra.Command{
	Use:   "validate <mapping-file>",
	Short: "Check a mapping file and print its script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		script, err := mapping.Load(args[0])
		if err != nil {
			return err
		}
		printScript(cmd, script)
		return nil
	},
}

var (
	kindColor = map[mapping.ActionKind]*color.Color{
		mapping.ActionSend:     color.New(color.FgCyan),
		mapping.ActionRecv:     color.New(color.FgYellow),
		mapping.ActionShutdown: color.New(color.FgMagenta),
	}
	okColor = color.New(color.FgGreen, color.Bold)
)

func printScript(cmd *cobra.Command, script *mapping.Script) {
	out := cmd.OutOrStdout()
	okColor.Fprintf(out, "mapping ok\n")
	fmt.Fprintf(out, "suite:    %s\n", script.Name)
	fmt.Fprintf(out, "messages: %d\n", len(script.Messages))
	fmt.Fprintf(out, "actions:  %d\n", len(script.Actions))
	for i, action := range script.Actions {
		label := action.String()
		if c, ok := kindColor[action.Kind]; ok {
			label = c.Sprint(label)
		}
		line := fmt.Sprintf("  %2d. %s", i, label)
		if payload, ok := script.Message(action.Message); ok {
			line += fmt.Sprintf(" [%d bytes]", len(payload))
		}
		if action.Wait > 0 {
			line += fmt.Sprintf(" after %s", action.Wait)
		}
		fmt.Fprintln(out, line)
	}
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
