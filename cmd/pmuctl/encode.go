// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEncodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "encode",
		Short: "Print the control register images of the requested events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sel, err := a.eventSelect()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), sel)
			return err
		},
	}
}
