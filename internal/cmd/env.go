package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/spotbridge/internal/console"
	"github.com/Iron-Ham/spotbridge/internal/env"
	"github.com/Iron-Ham/spotbridge/internal/tools"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Manage tool environments",
	Long: `Manage the Python environments tools run in.

Environments are built on first use and cached under environment.cache_dir.`,
}

var envBuildCmd = &cobra.Command{
	Use:   "build <tool>",
	Short: "Build the environment of a tool ahead of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnvBuild,
}

var envListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached environments",
	RunE:  runEnvList,
}

var envPruneCmd = &cobra.Command{
	Use:   "prune [pattern]",
	Short: "Remove cached environments matching a glob pattern (default: all)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runEnvPrune,
}

var envTool toolFlags

func init() {
	rootCmd.AddCommand(envCmd)
	envCmd.AddCommand(envBuildCmd)
	envCmd.AddCommand(envListCmd)
	envCmd.AddCommand(envPruneCmd)
	envTool.register(envBuildCmd)
}

func runEnvBuild(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.configurator(args[0], &envTool, tools.Shape{Channels: 1})
	if err != nil {
		return err
	}
	spec := env.Spec{Content: c.EnvSpec()}
	fmt.Fprintf(cmd.ErrOrStderr(), "Building %s (%s)...\n", spec.Name(), spec.DetectFormat())

	start := time.Now()
	environment, err := a.envs.Build(cmd.Context(), spec)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s ready in %s\n  %s\n", environment.Name, time.Since(start).Round(time.Second), environment.Dir)
	return nil
}

func runEnvList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	infos, err := a.envs.List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No environments in %s\n", a.envs.Root())
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(console.MutedColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			st := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return st.Bold(true).Foreground(console.PrimaryColor)
			}
			return st
		}).
		Headers("ID", "STATUS", "MODIFIED")
	for _, info := range infos {
		status := "incomplete"
		if info.Ready {
			status = "ready"
		}
		t.Row(info.ID, status, info.ModTime.Format(time.DateTime))
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), t.Render())
	return err
}

func runEnvPrune(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pattern := "*"
	if len(args) == 1 {
		pattern = args[0]
	}
	removed, err := a.envs.Prune(pattern)
	for _, id := range removed {
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
	}
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to remove.")
	}
	return nil
}
