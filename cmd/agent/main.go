// Copyright (C) 2026 adb-toolkit project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adbtoolkit/agent/agent"
	"github.com/adbtoolkit/agent/config"
	"github.com/adbtoolkit/agent/internal/logger"
	"github.com/adbtoolkit/agent/internal/version"
)

var (
	configPath string
	stateDir   string
	httpPort   int
	xferPort   int
)

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "On-device agent for the adb-toolkit controller",
	Long: `The agent exposes device introspection, file and package operations,
bulk binary transfer, and secure peer-to-peer relay to a paired
controller over USB or Wi-Fi.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent services",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log := logger.NewLogger(os.Stdout, logger.ParseLevel(cfg.Logging.Level))
		logger.SetDefaultLogger(log)

		ctrl, err := agent.New(cfg, nil, log)
		if err != nil {
			return err
		}
		if err := ctrl.Start(); err != nil {
			return err
		}

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return ctrl.Stop(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the agent version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Server + "/" + version.Version)
	},
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if httpPort != 0 {
		cfg.HTTP.Port = httpPort
	}
	if xferPort != 0 {
		cfg.Transfer.Port = xferPort
	}
	return cfg, nil
}

func init() {
	// A .env alongside the binary seeds ${VAR} config substitution.
	_ = godotenv.Load()

	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to agent.yaml")
	serveCmd.Flags().StringVar(&stateDir, "state-dir", "", "override the state directory")
	serveCmd.Flags().IntVar(&httpPort, "http-port", 0, "override the HTTP API port")
	serveCmd.Flags().IntVar(&xferPort, "transfer-port", 0, "override the transfer port")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
