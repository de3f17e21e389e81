package main

import (
	"os"
	"time"

	"crisis-monitor/pkg/version"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logger = logrus.New()

var rootCmd = &cobra.Command{
	Use:           version.Name,
	Short:         "Real-time crisis risk scoring for live calls",
	Long:          "Scores live call transcripts and voice tonality for crisis risk, tracks per-call sessions and raises one-shot escalations.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	rootCmd.AddCommand(newServeCmd(), newAnalyzeCmd(), newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.UserAgent())
		},
	}
}
