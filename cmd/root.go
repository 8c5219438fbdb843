package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/lockwatch/cmd/bench"
	"github.com/ValentinKolb/lockwatch/cmd/deadlock"
	"github.com/ValentinKolb/lockwatch/cmd/stress"
	"github.com/ValentinKolb/lockwatch/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "lockwatch",
		Short: "instrumented mutexes with contention and deadlock reports",
		Long: fmt.Sprintf(`lockwatch (v%s)

Tools around lockwatch, an instrumented mutex library for Go that reports
sustained contention and lock cycles instead of hanging silently.`, Version),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			return util.InitLogging()
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of lockwatch",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lockwatch v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(stress.StressCmd)
	RootCmd.AddCommand(deadlock.DeadlockCmd)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("log level (debug, info, warn, error)"))
	util.SetupCoordinatorFlags(RootCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
