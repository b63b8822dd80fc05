// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

// Package tokstream defines the logic for the "tokstream" tool.
//
// tokstream inspects, verifies, and recompresses token stream files.
package tokstream

import (
	"os"

	"github.com/danjacques/gocapture/session"
	"github.com/danjacques/gocapture/support/logging"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// app holds state shared by every command.
type app struct {
	configPath string
	debug      bool

	cfg    session.Config
	logger logging.L
	sync   func() error
}

// Main is the main entry point.
func Main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd creates the root tokstream command.
func NewRootCmd() *cobra.Command {
	var a app

	root := &cobra.Command{
		Use:   "tokstream",
		Short: "Inspect and maintain token stream files",
		Long: `tokstream reads the stream files written by capture sessions.

It can summarize a stream's header, metadata, and chunk layout, verify that
every chunk decodes, and rewrite a stream with different compression.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "",
		"Path to a session configuration YAML file. If empty, defaults are used.")
	pf.BoolVar(&a.debug, "debug", false, "Enable debug logging.")

	root.AddCommand(
		newInfoCmd(&a),
		newVerifyCmd(&a),
		newRecompressCmd(&a),
	)
	return root
}

func (a *app) setup() error {
	var err error
	if a.logger, a.sync, err = logging.New(a.debug); err != nil {
		return errors.Wrap(err, "could not create logger")
	}

	a.cfg = session.Default()
	if a.configPath != "" {
		if a.cfg, err = session.LoadFile(a.configPath); err != nil {
			return err
		}
		a.logger.Debugf("Loaded configuration from %q.", a.configPath)
	}
	return nil
}

func (a *app) teardown() error {
	if a.sync != nil {
		// Syncing a terminal stderr fails on some platforms; ignore it.
		_ = a.sync()
	}
	return nil
}
