// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pmuctl/pmuctl/internal/config"
	"github.com/pmuctl/pmuctl/pmu"
)

// app is the state shared by every subcommand.
type app struct {
	cfgFile string
	v       *viper.Viper
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New(), log: zap.NewNop()}

	root := &cobra.Command{
		Use:   "pmuctl",
		Short: "Program and count hardware performance counters",
		Long: `pmuctl packs PMU event requests into the event select registers of
the core PMU and counts them on running threads through perf_event_open.

General purpose events are written as event=N,umask=N[,user][,kernel]
[,edge][,any][,inv][,cmask=N]; fixed counter events as
counter=N[,user][,kernel]; offcore events as raw 64 bit values.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.log.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./pmuctl.yaml)")
	flags.BoolP("verbose", "v", false, "log debug output")
	flags.StringArrayP("general", "g", nil, "general purpose `event` (repeatable)")
	flags.StringArrayP("fixed", "f", nil, "fixed counter `event` (repeatable)")
	flags.StringArrayP("offcore", "o", nil, "offcore response `value` (repeatable)")
	a.bind(flags, map[string]string{
		"verbose": config.KeyVerbose,
		"general": config.KeyGeneral,
		"fixed":   config.KeyFixed,
		"offcore": config.KeyOffcore,
	})

	root.AddCommand(newEncodeCmd(a))
	root.AddCommand(newStatCmd(a))
	return root
}

func (a *app) bind(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// init reads the config file and builds the logger.
func (a *app) init() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigType("yaml")
		a.v.SetConfigName("pmuctl")
	}
	if err := a.v.ReadInConfig(); err != nil {
		// A missing default config file is fine.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || a.cfgFile != "" {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	logConfig := zap.NewProductionConfig()
	if a.v.GetBool(config.KeyVerbose) {
		logConfig = zap.NewDevelopmentConfig()
	}
	log, err := logConfig.Build()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	a.log = log
	if used := a.v.ConfigFileUsed(); used != "" {
		a.log.Debug("Using config file", zap.String("path", used))
	}
	return nil
}

// eventSelect loads the configured request and builds its register image.
func (a *app) eventSelect() (*config.Config, *pmu.EventSelect, error) {
	cfg, err := config.Load(a.v)
	if err != nil {
		return nil, nil, err
	}
	req, err := cfg.Request()
	if err != nil {
		return nil, nil, err
	}
	if req.Empty() && len(cfg.Extra) == 0 {
		return nil, nil, fmt.Errorf("no events requested")
	}
	sel, err := pmu.Build(req, a.log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, sel, nil
}
