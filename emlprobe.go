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

// Package emlprobe ties the configuration file, the module registry and
// the process lifecycle together. The actual modules register
// themselves from their init functions, pulled in by the import block
// below.
package emlprobe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/urfave/cli/v2"

	parser "github.com/ynggny/emlprobe/framework/cfgparser"
	"github.com/ynggny/emlprobe/framework/config"
	"github.com/ynggny/emlprobe/framework/hooks"
	"github.com/ynggny/emlprobe/framework/log"
	"github.com/ynggny/emlprobe/framework/module"
	emlcli "github.com/ynggny/emlprobe/internal/cli"

	// Imported for side effect of module registration.
	_ "github.com/ynggny/emlprobe/internal/audit"
	_ "github.com/ynggny/emlprobe/internal/endpoint/api"
	_ "github.com/ynggny/emlprobe/internal/endpoint/metrics"
	_ "github.com/ynggny/emlprobe/internal/storage/blob/fs"
	_ "github.com/ynggny/emlprobe/internal/storage/blob/s3"
)

var (
	// Version is overridden at build time using
	// -X github.com/ynggny/emlprobe.Version=unstable.
	Version = "1.4.0"

	ConfigDirectory         = "/etc/emlprobe"
	DefaultStateDirectory   = "/var/lib/emlprobe"
	DefaultRuntimeDirectory = "/run/emlprobe"
)

// BuildInfo returns a version string for the version subcommand and
// the log preamble.
func BuildInfo() string {
	version := Version
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
	return fmt.Sprintf("%s %s/%s %s", version, runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func init() {
	emlcli.AddGlobalFlag(
		&cli.PathFlag{
			Name:    "config",
			Usage:   "Configuration file to use",
			EnvVars: []string{"EMLPROBE_CONFIG"},
			Value:   filepath.Join(ConfigDirectory, "emlprobe.conf"),
		},
	)
	emlcli.AddSubcommand(&cli.Command{
		Name:  "run",
		Usage: "Start the server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "debug",
				Usage:       "enable debug logging early",
				Destination: &log.DefaultLogger.Debug,
			},
			&cli.StringFlag{
				Name:  "log",
				Usage: "default logging target(s)",
				Value: "stderr",
			},
		},
		Action: Run,
	})
	emlcli.AddSubcommand(&cli.Command{
		Name:  "version",
		Usage: "Print version and build metadata, then exit",
		Action: func(c *cli.Context) error {
			fmt.Println("emlprobe", BuildInfo())
			return nil
		},
	})
}

// Run reads the configuration file and starts the server. It returns
// after a termination signal is received and all modules are shut down.
func Run(c *cli.Context) error {
	var err error
	log.DefaultLogger.Out, err = LogOutputOption(strings.Split(c.String("log"), " "))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	configPath := c.Path("config")
	f, err := os.Open(configPath)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer f.Close()

	cfg, err := parser.Read(f, configPath)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	if err := moduleMain(cfg); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	return nil
}

func moduleMain(cfg []config.Node) error {
	globals := config.NewMap(nil, config.Node{Children: cfg})
	globals.String("state_dir", false, false, DefaultStateDirectory, &config.StateDirectory)
	globals.String("runtime_dir", false, false, DefaultRuntimeDirectory, &config.RuntimeDirectory)
	globals.Custom("log", false, false, defaultLogOutput, logOutput, &log.DefaultLogger.Out)
	globals.Bool("debug", false, log.DefaultLogger.Debug, &log.DefaultLogger.Debug)
	globals.AllowUnknown()
	unknown, err := globals.Process()
	if err != nil {
		return err
	}

	if err := InitDirs(); err != nil {
		return err
	}

	defer log.DefaultLogger.Out.Close()

	log.Println("emlprobe", BuildInfo(), "starting...")

	endpoints, err := instancesFromConfig(globals.Values, unknown)
	if err != nil {
		return err
	}

	s := handleSignals()
	log.Printf("signal received (%v), next signal will force immediate shutdown", s)

	// Endpoints first so no new requests reach modules being torn down.
	for i := len(endpoints) - 1; i >= 0; i-- {
		if closer, ok := endpoints[i].(io.Closer); ok {
			if err := closer.Close(); err != nil {
				log.Printf("endpoint %s close failed: %v", endpoints[i].Name(), err)
			}
		}
	}
	hooks.RunHooks(hooks.EventShutdown)

	return nil
}

type modInfo struct {
	instance module.Module
	cfg      config.Node
}

// instancesFromConfig creates module instances for all top-level config
// blocks. Endpoint modules are initialized eagerly and returned, other
// modules are registered for lazy initialization and pulled in by
// whoever references them.
func instancesFromConfig(globals map[string]interface{}, nodes []config.Node) ([]module.Module, error) {
	var (
		endpoints []modInfo
		mods      = make([]modInfo, 0, len(nodes))
	)

	for _, block := range nodes {
		var instName string
		var modAliases []string
		if len(block.Args) == 0 {
			instName = block.Name
		} else {
			instName = block.Args[0]
			modAliases = block.Args[1:]
		}

		modName := block.Name

		endpFactory := module.GetEndpoint(modName)
		if endpFactory != nil {
			inst, err := endpFactory(modName, block.Args)
			if err != nil {
				return nil, err
			}

			endpoints = append(endpoints, modInfo{instance: inst, cfg: block})
			continue
		}

		factory := module.Get(modName)
		if factory == nil {
			return nil, config.NodeErr(block, "unknown module: %s", modName)
		}

		if module.HasInstance(instName) {
			return nil, config.NodeErr(block, "config block named %s already exists", instName)
		}

		inst, err := factory(modName, instName, modAliases, nil)
		if err != nil {
			return nil, err
		}

		module.RegisterInstance(inst, config.NewMap(globals, block))
		for _, alias := range modAliases {
			if module.HasInstance(alias) {
				return nil, config.NodeErr(block, "config block named %s already exists", alias)
			}
			module.RegisterAlias(alias, instName)
		}
		mods = append(mods, modInfo{instance: inst, cfg: block})
	}

	if len(endpoints) == 0 {
		return nil, errors.New("at least one endpoint (api, metrics) is required")
	}

	for _, endp := range endpoints {
		if err := endp.instance.Init(config.NewMap(globals, endp.cfg)); err != nil {
			return nil, err
		}
	}

	// Initialize remaining non-endpoint modules just to check their
	// configuration. Modules that are actually used were already pulled
	// in by lazy initialization during endpoint setup.
	for _, mod := range mods {
		if module.Initialized[mod.instance.InstanceName()] {
			continue
		}

		log.Printf("%s (%s) is not used anywhere", mod.instance.InstanceName(), mod.instance.Name())
		if _, err := module.GetInstance(mod.instance.InstanceName()); err != nil {
			return nil, err
		}
	}

	res := make([]module.Module, 0, len(endpoints))
	for _, endp := range endpoints {
		res = append(res, endp.instance)
	}
	return res, nil
}

// InitDirs ensures the state and runtime directories exist and are
// writable, then chdirs into the state directory so relative paths in
// the configuration resolve against it.
func InitDirs() error {
	if config.StateDirectory == "" {
		config.StateDirectory = DefaultStateDirectory
	}
	if config.RuntimeDirectory == "" {
		config.RuntimeDirectory = DefaultRuntimeDirectory
	}

	if err := ensureDirectoryWritable(config.StateDirectory); err != nil {
		return err
	}
	if err := ensureDirectoryWritable(config.RuntimeDirectory); err != nil {
		return err
	}

	// Paths must be absolute before the working directory changes.
	if !filepath.IsAbs(config.StateDirectory) {
		return errors.New("state_dir should be absolute")
	}
	if !filepath.IsAbs(config.RuntimeDirectory) {
		return errors.New("runtime_dir should be absolute")
	}

	if err := os.Chdir(config.StateDirectory); err != nil {
		log.Println(err)
	}

	return nil
}

func ensureDirectoryWritable(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return err
	}

	testFile, err := os.Create(filepath.Join(path, "writeable-test"))
	if err != nil {
		return err
	}
	testFile.Close()
	return os.Remove(testFile.Name())
}
