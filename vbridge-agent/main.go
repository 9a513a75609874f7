// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cilium/vbridge/vbridge-agent/agent"
	"github.com/cilium/vbridge/vbridge-agent/topology"
)

func main() {
	cmd := &cobra.Command{
		Use:   "vbridge-agent",
		Short: "Run the vBridge agent",
	}

	cmd.AddCommand(
		agent.NewCmd(agent.Cell),
		topology.NewCmd(),
	)

	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
