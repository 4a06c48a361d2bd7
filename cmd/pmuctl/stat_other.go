// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func newStatCmd(*app) *cobra.Command {
	return &cobra.Command{
		Use:   "stat [pid...]",
		Short: "Count the requested events (Linux only)",
		RunE: func(*cobra.Command, []string) error {
			return errors.New("stat requires Linux perf events")
		},
	}
}
