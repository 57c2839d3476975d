package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/mopub/statsite"
	"github.com/mopub/statsite/internal/util"
	"github.com/mopub/statsite/pkg/daemon"
)

const (
	// ParamVerbose enables verbose logging.
	ParamVerbose = "verbose"
	// ParamJSON makes logger log in JSON format.
	ParamJSON = "json"
	// ParamConfigPath provides file with configuration.
	ParamConfigPath = "config-path"
	// ParamVersion makes program output its version.
	ParamVersion = "version"
	// ParamBadLinesPerMinute limits how often unparsable input is logged.
	ParamBadLinesPerMinute = "bad-lines-logged-per-minute"
)

func main() {
	v, version, err := setupConfiguration()
	if err != nil {
		if err == pflag.ErrHelp {
			return
		}
		logrus.Fatalf("Error while parsing configuration: %v", err)
	}
	if version {
		fmt.Printf("Version: %s - Commit: %s - Date: %s\n", Version, GitCommit, BuildDate)
		return
	}
	if err := run(v); err != nil {
		logrus.Fatalf("%v", err)
	}
}

func run(v *viper.Viper) error {
	logrus.Info("Starting statsite")
	s, err := constructServer(v)
	if err != nil {
		return err
	}

	ctx, cancelFunc := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancelFunc()

	if err := s.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("server error: %v", err)
	}
	return nil
}

func constructServer(v *viper.Viper) (*daemon.Server, error) {
	logger := logrus.StandardLogger()

	opts, err := statsite.NewRegistryOptionsFromViper(v)
	if err != nil {
		return nil, err
	}

	return &daemon.Server{
		MetricsAddr:               v.GetString(statsite.ParamMetricsAddr),
		MetricsAddrUDP:            v.GetString(statsite.ParamMetricsAddrUDP),
		WebAddr:                   v.GetString(statsite.ParamWebAddr),
		FlushInterval:             v.GetDuration(statsite.ParamFlushInterval),
		BinaryStream:              v.GetBool(statsite.ParamBinaryStream),
		StreamCmd:                 v.GetString(statsite.ParamStreamCmd),
		InputCounter:              v.GetString(statsite.ParamInputCounter),
		RegistryOptions:           opts,
		BadLineRateLimitPerSecond: rate.Limit(v.GetFloat64(ParamBadLinesPerMinute) / 60.0),
		Logger:                    logger,
	}, nil
}

func setupConfiguration() (*viper.Viper, bool, error) {
	v := viper.New()
	defer setupLogger(v) // Apply logging configuration in case of early exit
	util.InitViper(v, "")

	var version bool

	cmd := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)

	cmd.BoolVar(&version, ParamVersion, false, "Print the version and exit")
	cmd.Bool(ParamVerbose, false, "Verbose")
	cmd.Bool(ParamJSON, false, "Log in JSON format")
	cmd.String(ParamConfigPath, "", "Path to the configuration file")
	cmd.Float64(ParamBadLinesPerMinute, 0, "Maximum number of unparsable lines logged per minute, 0 to log all")

	statsite.AddFlags(cmd)

	cmd.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(err) // Should never happen
		}
	})

	if err := cmd.Parse(os.Args[1:]); err != nil {
		return nil, false, err
	}

	configPath := v.GetString(ParamConfigPath)
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, false, err
		}
	}

	return v, version, nil
}

func setupLogger(v *viper.Viper) {
	if v.GetBool(ParamVerbose) {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if v.GetBool(ParamJSON) {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}
