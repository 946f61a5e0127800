/*
Emlprobe - email forensics and scoring engine.
Copyright © 2023-2024 emlprobe contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapOutput struct {
	core zapcore.Core
	sync io.Closer
}

// ZapJSONOutput returns a log.Output implementation that encodes messages
// into one-line JSON documents using the zap JSON encoder.
//
// The logger name prefix ("name: msg") is moved into the "logger" key of the
// document. The key=value tail produced by Logger.Msg is carried as-is in
// the "msg" key, pre-parsed fields are not recovered.
func ZapJSONOutput(wc io.WriteCloser) Output {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(wc),
		zapcore.DebugLevel,
	)
	return zapOutput{core: core, sync: wc}
}

func (z zapOutput) Write(stamp time.Time, debug bool, msg string) {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	name := ""
	if prefix, rest, ok := strings.Cut(msg, ": "); ok && !strings.ContainsAny(prefix, " \t") {
		name = prefix
		msg = rest
	}

	entry := zapcore.Entry{
		Level:      level,
		Time:       stamp,
		LoggerName: name,
		Message:    strings.TrimRight(msg, "\t"),
	}
	if err := z.core.Write(entry, nil); err != nil {
		fmt.Fprintf(os.Stderr, "!!! Failed to write message to log: %v\n", err)
	}
}

func (z zapOutput) Close() error {
	_ = z.core.Sync()
	return z.sync.Close()
}
