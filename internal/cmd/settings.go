package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage saved tool settings",
	Long: `Manage the settings saved for each tool.

Saved settings are applied by run, script and describe unless --defaults
or --settings is given.`,
	RunE: runSettingsList,
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tools with saved settings",
	RunE:  runSettingsList,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show <tool>",
	Short: "Show the effective settings of a tool",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsShow,
}

var settingsSaveCmd = &cobra.Command{
	Use:   "save <tool>",
	Short: "Save settings for a tool",
	Long: `Save settings for a tool. Values start from the saved settings (or the
defaults) and are changed with --set.

Example:
  spotbridge settings save cellpose --set CELL_DIAMETER=12 --set USE_GPU=true`,
	Args: cobra.ExactArgs(1),
	RunE: runSettingsSave,
}

var settingsRemoveCmd = &cobra.Command{
	Use:   "remove <tool>",
	Short: "Remove the saved settings of a tool",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsRemove,
}

var settingsPathCmd = &cobra.Command{
	Use:   "path [tool]",
	Short: "Show the settings directory or the settings file of a tool",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSettingsPath,
}

var (
	settingsShowTool  toolFlags
	settingsShowShape shapeFlags
	settingsSaveTool  toolFlags
	settingsSaveShape shapeFlags
)

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSaveCmd)
	settingsCmd.AddCommand(settingsRemoveCmd)
	settingsCmd.AddCommand(settingsPathCmd)

	settingsShowTool.register(settingsShowCmd)
	settingsShowShape.register(settingsShowCmd)
	settingsSaveTool.register(settingsSaveCmd)
	settingsSaveShape.register(settingsSaveCmd)
}

func runSettingsList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	names, err := a.store.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No saved settings.")
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.configurator(args[0], &settingsShowTool, settingsShowShape.shape())
	if err != nil {
		return err
	}
	values := c.ToSettingsMap()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", k, values[k])
	}
	return nil
}

func runSettingsSave(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.configurator(args[0], &settingsSaveTool, settingsSaveShape.shape())
	if err != nil {
		return err
	}
	if err := c.Check(); err != nil {
		return err
	}
	path, err := a.store.Save(c)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Settings saved to %s\n", path)
	return nil
}

func runSettingsRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.Remove(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed settings of %s\n", args[0])
	return nil
}

func runSettingsPath(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if len(args) == 1 {
		fmt.Fprintln(cmd.OutOrStdout(), a.store.Path(args[0]))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), a.store.Dir())
	return nil
}
