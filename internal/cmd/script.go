package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scriptCmd = &cobra.Command{
	Use:   "script <tool>",
	Short: "Print the script a tool would run",
	Long: `Print the Python script a tool would run with the current settings.

Use --env to print the environment manifest instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

var (
	scriptTool  toolFlags
	scriptShape shapeFlags
	scriptEnv   bool
)

func init() {
	rootCmd.AddCommand(scriptCmd)
	scriptTool.register(scriptCmd)
	scriptShape.register(scriptCmd)
	scriptCmd.Flags().BoolVar(&scriptEnv, "env", false, "print the environment manifest")
}

func runScript(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.configurator(args[0], &scriptTool, scriptShape.shape())
	if err != nil {
		return err
	}
	if scriptEnv {
		fmt.Fprint(cmd.OutOrStdout(), c.EnvSpec())
		return nil
	}
	script, err := c.MakeScript()
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), script)
	return nil
}
