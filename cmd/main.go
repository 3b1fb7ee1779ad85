// Copyright 2014 Claudemiro Alves Feitosa Neto. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the httpmock server binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"httpmock"
	"httpmock/config"
	"httpmock/logger"
)

const defaultConfigFile = "config.yml"

type options struct {
	configFile string
	host       string
	port       int
	debug      bool
	quiet      bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "httpmock",
		Short:         "Programmable HTTP mock server for integration tests",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(opts, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}

			if err := logger.Init(conf.Debug); err != nil {
				return err
			}
			defer logger.Sync()

			if !opts.quiet {
				printBanner()
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
			defer stop()

			if err := httpmock.Start(ctx, conf); err != nil {
				logger.ErrorWithErr("Server failed", err, zap.String("host", conf.Host))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.configFile, "config", defaultConfigFile, "Config file location")
	cmd.Flags().StringVar(&opts.host, "host", "", "Listen host, overrides the config file")
	cmd.Flags().IntVar(&opts.port, "port", 0, "Listen port, overrides the config file")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Log at debug level")
	cmd.Flags().BoolVar(&opts.quiet, "quiet", false, "Do not print the banner")

	return cmd
}

// loadConfig reads the config file and applies the flags on top. The
// default file may be missing, an explicit one may not.
func loadConfig(opts *options, explicit bool) (config.File, error) {
	conf, err := config.Load(opts.configFile)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return conf, err
		}
		conf = config.Default()
	}

	host, port, err := net.SplitHostPort(conf.Host)
	if err != nil {
		return conf, fmt.Errorf("invalid host %q: %w", conf.Host, err)
	}

	if opts.host != "" {
		host = opts.host
	}
	if opts.port != 0 {
		port = strconv.Itoa(opts.port)
	}
	conf.Host = net.JoinHostPort(host, port)

	if opts.debug {
		conf.Debug = true
	}

	return conf, conf.Validate()
}

// Main function, initialize the system
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Print a banner on stdout
func printBanner() {
	r := "\033[0m"
	pink := "\033[38;2;238;53;142m"
	cyan := "\033[38;2;94;194;238m"

	fmt.Println()
	fmt.Printf(" %s╦ ╦╔╦╗╔╦╗╔═╗%s %s╔╦╗╔═╗╔═╗╦╔═%s\n", pink, r, cyan, r)
	fmt.Printf(" %s╠═╣ ║  ║ ╠═╝%s %s║║║║ ║║  ╠╩╗%s\n", pink, r, cyan, r)
	fmt.Printf(" %s╩ ╩ ╩  ╩ ╩  %s %s╩ ╩╚═╝╚═╝╩ ╩%s\n", pink, r, cyan, r)
	fmt.Println()
}
