// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the settings of a pmuctl profiling session from a
// config file, the environment and command line flags.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pmuctl/pmuctl/pmu"
)

// EnvPrefix prefixes the environment variables that override config keys.
// For example, PMUCTL_STAT_DURATION sets stat.duration.
const EnvPrefix = "PMUCTL"

// Config keys.
const (
	KeyGeneral  = "events.general"
	KeyFixed    = "events.fixed"
	KeyOffcore  = "events.offcore"
	KeyExtra    = "events.extra"
	KeyDuration = "stat.duration"
	KeyPIDs     = "stat.pids"
	KeyVerbose  = "log.verbose"
)

// DefaultDuration is how long stat counts when no duration is configured.
const DefaultDuration = time.Second

// Config is a profiling session.
type Config struct {
	// General, Fixed and Offcore hold one event per element in the syntax
	// accepted by [pmu.ParseRequest].
	General []string
	Fixed   []string
	Offcore []string

	// Extra names generic perf events, such as "task-clock", counted
	// alongside the PMU request.
	Extra []string

	Duration time.Duration
	PIDs     []int
	Verbose  bool
}

// New returns a viper instance with the defaults set and environment
// overrides enabled.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults sets the default value of every key. By default the first
// two fixed counters count instructions and cycles at every privilege
// level.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyGeneral, []string{})
	v.SetDefault(KeyFixed, []string{"counter=0,user,kernel", "counter=1,user,kernel"})
	v.SetDefault(KeyOffcore, []string{})
	v.SetDefault(KeyExtra, []string{})
	v.SetDefault(KeyDuration, DefaultDuration.String())
	v.SetDefault(KeyPIDs, []string{})
	v.SetDefault(KeyVerbose, false)
}

// Load reads the session from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		General:  v.GetStringSlice(KeyGeneral),
		Fixed:    v.GetStringSlice(KeyFixed),
		Offcore:  v.GetStringSlice(KeyOffcore),
		Extra:    v.GetStringSlice(KeyExtra),
		Duration: v.GetDuration(KeyDuration),
		Verbose:  v.GetBool(KeyVerbose),
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("%s: duration must be positive, got %q", KeyDuration, v.GetString(KeyDuration))
	}
	// Read pids as strings so that both YAML lists and space separated
	// environment values work.
	for _, s := range v.GetStringSlice(KeyPIDs) {
		pid, err := strconv.Atoi(s)
		if err != nil || pid <= 0 {
			return nil, fmt.Errorf("%s: bad pid %q", KeyPIDs, s)
		}
		cfg.PIDs = append(cfg.PIDs, pid)
	}
	return cfg, nil
}

// Request parses the PMU events of c.
func (c *Config) Request() (*pmu.Request, error) {
	return pmu.ParseRequest(c.General, c.Fixed, c.Offcore)
}
