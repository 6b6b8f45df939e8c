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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/annchain/ogbft/common/utilfuncs"
	"github.com/spf13/viper"
)

// readConfig merges --config when it exists, then the environment.
func readConfig() {
	configPath := viper.GetString("config")
	if _, err := os.Stat(configPath); err == nil {
		mergeLocalConfig(configPath)
	} else {
		fmt.Println("config file not exist ", configPath)
	}

	mergeEnvConfig()
	// print running config in console.
	b, err := json.MarshalIndent(viper.AllSettings(), "", "    ")
	utilfuncs.PanicIfError(err, "dump json")
	fmt.Println(string(b))
}

func mergeEnvConfig() {
	// env override
	viper.SetEnvPrefix("ogbft")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()
}

func mergeLocalConfig(configPath string) {
	absPath, err := filepath.Abs(configPath)
	utilfuncs.PanicIfError(err, fmt.Sprintf("Error on parsing config file path: %s", absPath))

	file, err := os.Open(absPath)
	utilfuncs.PanicIfError(err, fmt.Sprintf("Error on opening config file: %s", absPath))
	defer file.Close()

	viper.SetConfigType("toml")
	err = viper.MergeConfig(file)
	utilfuncs.PanicIfError(err, fmt.Sprintf("Error on reading config file: %s", absPath))
}

func ensureFolder() {
	dir := viper.GetString("datadir")
	err := os.MkdirAll(dir, 0700)
	utilfuncs.PanicIfError(err, "creating data folder: "+dir)
}

// OGBFT_CONSENSUS_BYZANTINE_RATE overrides consensus.byzantine_rate
var envKeyReplacer = strings.NewReplacer(".", "_")
