package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/rtpgateway"
	"github.com/opd-ai/rtpgateway/config"
	"github.com/sirupsen/logrus"
)

// CLI configuration
type CLIConfig struct {
	configPath string
	logLevel   string
	logJSON    bool
	logFile    string
	channelID  string
	remote     string
	help       bool
}

// parseCLIFlags parses command-line flags and returns the configuration.
func parseCLIFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs.StringVar(&cfg.configPath, "config", config.DefaultPath, "Settings file")

	// Logging configuration
	fs.StringVar(&cfg.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	fs.BoolVar(&cfg.logJSON, "log-json", false, "Emit JSON logs")
	fs.StringVar(&cfg.logFile, "log-file", "", "Log file path (default: stderr)")

	// Call configuration
	fs.StringVar(&cfg.channelID, "channel", "", "Open a call with this channel id at startup")
	fs.StringVar(&cfg.remote, "remote", "", "Caller media address host:port for -channel")

	fs.BoolVar(&cfg.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(cfg *CLIConfig) error {
	if cfg.logLevel != "" {
		if _, err := logrus.ParseLevel(cfg.logLevel); err != nil {
			return fmt.Errorf("invalid log level %q", cfg.logLevel)
		}
	}
	if cfg.remote != "" {
		if cfg.channelID == "" {
			return fmt.Errorf("-remote requires -channel")
		}
		if _, err := net.ResolveUDPAddr("udp4", cfg.remote); err != nil {
			return fmt.Errorf("invalid remote address %q: %w", cfg.remote, err)
		}
	}
	return nil
}

// setupLogging applies the level and formatter. The returned closer
// releases the log file, if any.
func setupLogging(cli *CLIConfig, settings *config.Config) (io.Closer, error) {
	level := settings.Level()
	if cli.logLevel != "" {
		parsed, err := logrus.ParseLevel(cli.logLevel)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	logrus.SetLevel(level)

	if cli.logJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cli.logFile == "" {
		logrus.SetOutput(os.Stderr)
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(cli.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logrus.SetOutput(f)
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupSignalHandling cancels ctx on SIGINT or SIGTERM.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"signal":   sig.String(),
		}).Info("Shutting down")
		cancel()
	}()
}

func run(ctx context.Context, cli *CLIConfig) error {
	settings, err := config.Load(cli.configPath)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	closer, err := setupLogging(cli, settings)
	if err != nil {
		return err
	}
	defer closer.Close()

	gw, err := rtpgateway.New(settings)
	if err != nil {
		return err
	}
	defer gw.Close()

	gw.OnUtteranceDelivered(func(channelID string) {
		logrus.WithFields(logrus.Fields{
			"function":   "main",
			"channel_id": channelID,
		}).Info("Utterance delivered")
	})

	if cli.channelID != "" {
		var remote *net.UDPAddr
		if cli.remote != "" {
			remote, err = net.ResolveUDPAddr("udp4", cli.remote)
			if err != nil {
				return err
			}
		}
		session, err := gw.StartSession(ctx, cli.channelID, remote)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"function":       "main",
			"channel_id":     session.ChannelID(),
			"correlation_id": session.CorrelationID(),
			"port":           session.Port(),
		}).Info("Call ready, send RTP to the media port")

		go func() {
			select {
			case <-session.Client().Closed():
				logrus.WithFields(logrus.Fields{
					"function":   "main",
					"channel_id": session.ChannelID(),
				}).Warn("Model connection closed")
			case <-session.Done():
			}
		}()
	}

	<-ctx.Done()
	return nil
}

func main() {
	cli, err := parseCLIFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if cli.help {
		fmt.Printf("Usage: %s [options]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(0)
	}

	if err := validateCLIConfig(cli); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	if err := run(ctx, cli); err != nil {
		logrus.WithError(err).Error("Gateway failed")
		cancel()
		os.Exit(1)
	}
}
