package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/spotbridge/internal/config"
	"github.com/Iron-Ham/spotbridge/internal/console"
	"github.com/Iron-Ham/spotbridge/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View run logs",
	Long: `View and filter the spotbridge debug log.

Examples:
  # Show the last 50 lines
  spotbridge logs

  # Everything logged by one run
  spotbridge logs --run 1f0c... -n 0

  # Follow warnings and errors
  spotbridge logs -f --level warn

  # Cellpose runs of the last hour
  spotbridge logs --tool Cellpose --since 1h`,
	RunE: runLogs,
}

var (
	logsRun    string
	logsTool   string
	logsTail   int
	logsFollow bool
	logsLevel  string
	logsSince  string
	logsGrep   string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsRun, "run", "", "only entries of this run ID")
	logsCmd.Flags().StringVar(&logsTool, "tool", "", "only entries of this tool")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
}

// logEntry represents a parsed JSON log line
type logEntry struct {
	Time  time.Time      `json:"time"`
	Level string         `json:"level"`
	Msg   string         `json:"msg"`
	RunID string         `json:"run_id,omitempty"`
	Tool  string         `json:"tool,omitempty"`
	Extra map[string]any `json:"-"`
}

// UnmarshalJSON captures unknown fields in Extra.
func (e *logEntry) UnmarshalJSON(data []byte) error {
	type alias logEntry
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range []string{"time", "level", "msg", "run_id", "tool"} {
		delete(all, k)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// logFilter selects log entries.
type logFilter struct {
	minLevel int
	since    time.Time
	run      string
	tool     string
	grep     *regexp.Regexp
}

var (
	logTimeStyle = lipgloss.NewStyle().Foreground(console.MutedColor)
	logAttrStyle = lipgloss.NewStyle().Foreground(console.BlueColor)
)

var levelStyles = map[string]lipgloss.Style{
	logging.LevelInfo:  lipgloss.NewStyle().Foreground(console.PrimaryColor),
	logging.LevelWarn:  lipgloss.NewStyle().Foreground(console.WarningColor),
	logging.LevelError: lipgloss.NewStyle().Foreground(console.ErrorColor),
}

func levelStyle(level string) lipgloss.Style {
	if st, ok := levelStyles[strings.ToUpper(level)]; ok {
		return st
	}
	return logTimeStyle
}

// levelPriority ranks level by its position in logging.ValidLevels, or -1.
func levelPriority(level string) int {
	return slices.Index(logging.ValidLevels(), strings.ToUpper(level))
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(entry *logEntry) string {
	var sb strings.Builder
	sb.WriteString(logTimeStyle.Render("[" + entry.Time.Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	sb.WriteString(levelStyle(entry.Level).Render("[" + strings.ToUpper(entry.Level) + "]"))
	sb.WriteString(" ")
	sb.WriteString(entry.Msg)

	if entry.Tool != "" {
		sb.WriteString(" " + logAttrStyle.Render("tool="+entry.Tool))
	}
	if entry.RunID != "" {
		sb.WriteString(" " + logAttrStyle.Render("run_id="+entry.RunID))
	}

	for _, k := range slices.Sorted(maps.Keys(entry.Extra)) {
		sb.WriteString(" " + logAttrStyle.Render(k+"=") + fmt.Sprintf("%v", entry.Extra[k]))
	}
	return sb.String()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	logPath := filepath.Join(cfg.Logging.ResolveDir(), logging.FileName)

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "No logs found at %s\n", logPath)
		return nil
	}

	filter := logFilter{minLevel: -1, run: logsRun, tool: logsTool}
	if logsLevel != "" {
		filter.minLevel = levelPriority(logging.ParseLevel(logsLevel))
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		filter.since = time.Now().Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return fmt.Errorf("invalid grep pattern: %w", err)
		}
		filter.grep = re
	}

	if logsFollow {
		return followLogs(cmd, logPath, filter)
	}

	f, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	lines, err := readLogs(f, logsTail, filter)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	if len(lines) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No matching log entries found.")
	}
	return nil
}

// readLogs returns the last tail formatted entries of r passing filter, or
// all of them when tail is 0.
func readLogs(r io.Reader, tail int, filter logFilter) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line, ok := filter.format(scanner.Text()); ok {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	return lines, nil
}

// format parses and formats one raw log line. Lines that are not JSON are
// kept as-is.
func (f logFilter) format(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	var entry logEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return line, true
	}
	if !f.passes(&entry) {
		return "", false
	}
	return formatLogEntry(&entry), true
}

func (f logFilter) passes(entry *logEntry) bool {
	if f.minLevel >= 0 && levelPriority(entry.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && entry.Time.Before(f.since) {
		return false
	}
	if f.run != "" && entry.RunID != f.run {
		return false
	}
	if f.tool != "" && !strings.EqualFold(entry.Tool, f.tool) {
		return false
	}
	if f.grep != nil {
		text := entry.Msg
		for _, v := range entry.Extra {
			text += " " + fmt.Sprintf("%v", v)
		}
		if !f.grep.MatchString(text) {
			return false
		}
	}
	return true
}

// followLogs implements tail -f behavior for the log file
func followLogs(cmd *cobra.Command, logPath string, filter logFilter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Following logs... (Ctrl+C to stop)\n\n")

	reader := bufio.NewReader(file)
	ctx := cmd.Context()
	var partial string
	for {
		line, err := reader.ReadString('\n')
		line = partial + line
		partial = ""
		if err == io.EOF {
			partial = line
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("error reading log file: %w", err)
		}
		if out, ok := filter.format(line); ok {
			fmt.Fprintln(cmd.OutOrStdout(), out)
		}
	}
}
