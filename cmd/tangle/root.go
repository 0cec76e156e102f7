package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tangle/internal/config"
	"tangle/internal/slogutil"
	"tangle/internal/version"
)

var (
	verbosity  int
	quiet      bool
	logFormat  string
	logFile    string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "tangle",
	Short: "tangle - structural confusion and duplication drift analysis",
	Long: `tangle finds code that is hard to follow and copies that have drifted apart.

It parses a source tree, scores every file on complexity, indirection and
context switches, ranks the worst offenders, detects dependency cycles, and
compares marked or inferred duplicate blocks against an approved baseline.
The exit status gates CI: 0 pass, 1 fail, 2 aborted.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("tangle version {{.Version}}\n")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress all logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (default from config)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file, rotated by logging.max_size")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default .tangle/config.yaml under the root)")
}

// rootArg returns the analysis root named by args, or the working directory.
func rootArg(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return filepath.Abs(args[0])
	}
	return os.Getwd()
}

// session is what every command needs once the root is known.
type session struct {
	root    string
	cfg     *config.Config
	logger  *slog.Logger
	closers []io.Closer
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
}

// newSession loads configuration for root and builds the logger it asks for.
// Flags win over the logging section of the config.
func newSession(cmd *cobra.Command, root string) (*session, error) {
	cfg, err := config.Load(root, configPath)
	if err != nil {
		return nil, err
	}
	s := &session{root: root, cfg: cfg}
	if err := s.initLogging(cmd); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) initLogging(cmd *cobra.Command) error {
	lc := s.cfg.Logging

	level := slogutil.LevelFromString(lc.Level)
	if quiet || cmd.Flags().Changed("verbose") {
		level = slogutil.LevelFromVerbosity(verbosity, quiet)
	}
	format := lc.Format
	if logFormat != "" {
		format = logFormat
	}

	handlers := []slog.Handler{
		slogutil.New(cmd.ErrOrStderr(), slogutil.Options{Level: level, Format: slogutil.ParseFormat(format)}).Handler(),
	}

	path := lc.File
	if logFile != "" {
		path = logFile
	}
	if path != "" && !quiet {
		if !filepath.IsAbs(path) && logFile == "" {
			path = filepath.Join(s.root, path)
		}
		fileLogger, closer, err := slogutil.NewFileLoggerWithRotation(path, level, lc.MaxSize, lc.MaxBackups)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, closer)
		handlers = append(handlers, fileLogger.Handler())
	}

	if lc.Remote.Endpoint != "" && !quiet {
		loki, err := slogutil.NewLokiHandler(&lc.Remote, map[string]string{
			"app":     version.ToolName,
			"version": version.Version,
		}, level)
		if err != nil {
			return err
		}
		loki.Start()
		s.closers = append(s.closers, loki)
		handlers = append(handlers, loki)
	}

	if len(handlers) == 1 {
		s.logger = slog.New(handlers[0])
	} else {
		s.logger = slog.New(slogutil.NewTeeHandler(handlers...))
	}
	return nil
}
