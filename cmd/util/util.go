package util

import (
	"strings"

	"github.com/ValentinKolb/lockwatch/lib/common"
	"github.com/ValentinKolb/lockwatch/lib/coordinator"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupCoordinatorFlags adds the coordinator tuning flags to a command
func SetupCoordinatorFlags(cmd *cobra.Command) {
	key := "wait-threshold"
	cmd.PersistentFlags().Duration(key, coordinator.DefaultWaitThreshold, WrapString("How long Lock polls before it registers as a waiter, runs the contention analysis and starts yielding"))

	key = "report-interval"
	cmd.PersistentFlags().Duration(key, coordinator.DefaultReportInterval, WrapString("Minimum time between two contention reports (reports with new deadlocks are always sent)"))
}

// InitConfig loads .env files and initializes viper for environment variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("lockwatch")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.InheritedFlags())
}

// InitLogging configures all package loggers with the configured level
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// GetCoordinatorOptions reads the coordinator options from viper.
// The returned options log their reports, callers may append more sinks.
func GetCoordinatorOptions() coordinator.Options {
	opts := coordinator.DefaultOptions()
	if d := viper.GetDuration("wait-threshold"); d > 0 {
		opts.WaitThreshold = d
	}
	if d := viper.GetDuration("report-interval"); d != 0 {
		opts.ReportInterval = d
	}
	return opts
}
