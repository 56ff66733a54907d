package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/spotbridge/internal/tools"
)

var describeCmd = &cobra.Command{
	Use:   "describe [tool]",
	Short: "Describe the arguments of a tool",
	Long: `Describe the arguments of a tool as YAML: keys, types, defaults, bounds,
choices and current values.

Without a tool, lists the built-in tools.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDescribe,
}

var (
	describeTool  toolFlags
	describeShape shapeFlags
)

func init() {
	rootCmd.AddCommand(describeCmd)
	describeTool.register(describeCmd)
	describeShape.register(describeCmd)
}

func runDescribe(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(tools.Names(), "\n"))
		return nil
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.configurator(args[0], &describeTool, describeShape.shape())
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(c.Describe()); err != nil {
		return fmt.Errorf("failed to encode description: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := c.Check(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
	}
	return nil
}
