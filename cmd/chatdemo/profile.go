// Copyright (c) 2021 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect protocol profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective protocol mapping as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mapping, err := loadMapping()
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err = enc.Encode(&mapping); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
}
