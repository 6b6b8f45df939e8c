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
package mylog

import (
	"net"
	"time"

	"github.com/annchain/ogbft/common/utilfuncs"
	logrustash "github.com/bshuster-repo/logrus-logstash-hook"
	rotatelogs "github.com/lestrrat/go-file-rotatelogs"
	"github.com/sirupsen/logrus"
)

func RotateLog(abspath string) *rotatelogs.RotateLogs {
	logFile, err := rotatelogs.New(
		abspath+"%Y%m%d%H%M.log",
		rotatelogs.WithLinkName(abspath+".log"),
		rotatelogs.WithMaxAge(24*time.Hour*7),
		rotatelogs.WithRotationTime(time.Hour*24),
	)
	utilfuncs.PanicIfError(err, "err init log")
	return logFile
}

// LogInit is the console setup used by tests and tools.
func LogInit(level logrus.Level) {
	Formatter := new(logrus.TextFormatter)
	Formatter.TimestampFormat = "15:04:05.000000"
	Formatter.FullTimestamp = true
	Formatter.ForceColors = true
	logrus.SetFormatter(Formatter)
	logrus.SetLevel(level)
}

// ParseLevel falls back to info for unknown names.
func ParseLevel(name string) logrus.Level {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		logrus.WithField("level", name).Warn("unknown log level, set to INFO")
		return logrus.InfoLevel
	}
	return level
}

// AddLogstashHook ships every entry to a logstash tcp input.
func AddLogstashHook(logger *logrus.Logger, address string, appName string) error {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return err
	}
	hook, err := logrustash.NewHookWithConn(conn, appName)
	if err != nil {
		conn.Close()
		return err
	}
	logger.Hooks.Add(hook)
	return nil
}
