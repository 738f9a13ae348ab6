package cmd

import (
	"fmt"
	"github.com/ValentinKolb/rawnet/cmd/perf"
	"github.com/ValentinKolb/rawnet/cmd/send"
	"github.com/ValentinKolb/rawnet/cmd/serve"
	"github.com/ValentinKolb/rawnet/cmd/util"
	"github.com/ValentinKolb/rawnet/transport/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "rawnet",
		Short: "raw socket networking toolkit",
		Long: fmt.Sprintf(`rawnet (v%s)

A low level networking toolkit written in Go: pooled, drain safe
datagram and stream readers and writers on raw sockets.`, Version),
		PersistentPreRunE: initLogging,
		SilenceUsage:      true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of rawnet",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rawnet v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(send.SendCmd)
	RootCmd.AddCommand(perf.PerfCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// initLogging installs the rawnet log format at the configured level
func initLogging(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlag("log-level", cmd.Flags().Lookup("log-level")); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
