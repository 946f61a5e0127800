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

// Package ctl implements one-off emlprobe subcommands.
package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ynggny/emlprobe/framework/dns"
	"github.com/ynggny/emlprobe/framework/log"
	"github.com/ynggny/emlprobe/internal/analyze"
	emlcli "github.com/ynggny/emlprobe/internal/cli"
	"github.com/ynggny/emlprobe/internal/message"
)

func init() {
	emlcli.AddSubcommand(
		&cli.Command{
			Name:      "analyze",
			Usage:     "Analyze a message from a file or stdin and print the JSON result",
			ArgsUsage: "[EML-FILE]",
			Action:    analyzeCommand,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "quick",
					Usage: "Skip DKIM and ARC verification",
				},
				&cli.StringFlag{
					Name:    "doh-url",
					Usage:   "Resolve DNS through the specified DNS-over-HTTPS endpoint instead of the system resolver",
					EnvVars: []string{"DOH_URL"},
				},
			},
		})
}

func analyzeCommand(ctx *cli.Context) error {
	var in io.Reader = os.Stdin
	if path := ctx.Args().First(); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	hdrs, rawHdr, body, err := message.ReadMessage(in)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: malformed message: %v", err), 2)
	}
	if len(hdrs) == 0 {
		return cli.Exit("Error: message has no headers", 2)
	}

	req := &message.AnalysisRequest{
		Headers:    hdrs,
		RawHeaders: rawHdr,
		Body:       body,
	}
	if err := message.ExtractParts(req); err != nil {
		// Analysis can still run on the header block alone.
		log.Println("body extraction failed:", err)
	}

	var resolver dns.Resolver = dns.DefaultResolver()
	if url := ctx.String("doh-url"); url != "" {
		resolver = dns.NewDoHResolver(url)
	}

	analyzer := &analyze.Analyzer{
		Resolver: resolver,
		Log:      log.Logger{Name: "analyze", Out: log.DefaultLogger.Out, Debug: log.DefaultLogger.Debug},
	}

	var resp *analyze.Response
	if ctx.Bool("quick") {
		resp = analyzer.AnalyzeQuick(context.Background(), req)
	} else {
		resp = analyzer.AnalyzeFull(context.Background(), req)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
