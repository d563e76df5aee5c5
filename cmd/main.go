/*
Copyright 2025 Silo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/silohq/silo"
	"github.com/silohq/silo/config"
	"github.com/silohq/silo/integrations/github"
	"github.com/silohq/silo/internal/notification"
)

// Silo represents the CLI application, encapsulating the root Cobra command.
type Silo struct {
	cmd *cobra.Command
}

// siloInstance holds the Silo instance and its configuration, shared by all
// subcommands.
type siloInstance struct {
	silo *silo.Silo
	cnf  *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun sets up the configuration and initializes the Silo instance before
// running any command.
func preRun(app *siloInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("silo.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newSilo, err := setupSilo(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.silo = newSilo
		app.cnf = cnf

		return nil
	}
}

// setupSilo creates and initializes a new Silo instance and registers the
// available integrations on it.
func setupSilo(cfg *config.Configuration) (*silo.Silo, error) {
	newSilo, err := silo.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating silo: %v", err)
	}

	newSilo.RegisterMigrator(github.NewMigrator(newSilo.Destination(), nil))
	return newSilo, nil
}

// NewCLI creates the command-line interface for the Silo application.
func NewCLI() *Silo {
	var configFile string
	s := &siloInstance{}

	var rootCmd = &cobra.Command{
		Use:   "silo",
		Short: "Issue tracker migration pipeline",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./silo.json", "Configuration file for silo")

	rootCmd.PersistentPreRunE = preRun(s)

	rootCmd.AddCommand(serverCommands(s))
	rootCmd.AddCommand(workerCommands(s))

	return &Silo{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w Silo) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
