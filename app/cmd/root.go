// Copyright © 2019 Annchain Authors <EMAIL ADDRESS>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"github.com/annchain/ogbft/node"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ogbft",
	Short: "ogbft: two stage byzantine finality for block producers",
	Long:  `ogbft runs a committee member that votes blocks into finality`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	defer DumpStack()
	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Error("Fatal error occurred. Program will exit")
		os.Exit(1)
	}
}

func init() {
	node.SetDefaults()

	// folders
	rootCmd.PersistentFlags().StringP("datadir", "d", "data", "Folder for keys and the database")
	rootCmd.PersistentFlags().StringP("config", "c", "config.toml", "Config file")

	// identity generation
	rootCmd.PersistentFlags().BoolP("genkey", "g", false, "Automatically generate a private key if the privkey is missing.")

	// log
	rootCmd.PersistentFlags().BoolP("log-stdout", "s", true, "Whether the log will be printed to stdout")
	rootCmd.PersistentFlags().StringP("log-dir", "l", "", "Folder for log files. Empty disables file logging")
	rootCmd.PersistentFlags().StringP("log-level", "v", "info", "Logging verbosity, possible values:[panic, fatal, error, warn, info, debug, trace]")
	rootCmd.PersistentFlags().BoolP("log-line-number", "n", false, "Whether the log will contain line number")
	rootCmd.PersistentFlags().Bool("multifile-by-level", false, "Output separate log files according to their level")
	rootCmd.PersistentFlags().String("log-logstash", "", "Logstash tcp address. Empty disables it")

	_ = viper.BindPFlag("datadir", rootCmd.PersistentFlags().Lookup("datadir"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	_ = viper.BindPFlag("genkey", rootCmd.PersistentFlags().Lookup("genkey"))

	_ = viper.BindPFlag("log.stdout", rootCmd.PersistentFlags().Lookup("log-stdout"))
	_ = viper.BindPFlag("log.dir", rootCmd.PersistentFlags().Lookup("log-dir"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.line_number", rootCmd.PersistentFlags().Lookup("log-line-number"))
	_ = viper.BindPFlag("log.multifile_by_level", rootCmd.PersistentFlags().Lookup("multifile-by-level"))
	_ = viper.BindPFlag("log.logstash", rootCmd.PersistentFlags().Lookup("log-logstash"))
}
