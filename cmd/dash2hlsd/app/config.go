// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/streamshift/dash2hls/pkg/logging"
)

type ServerConfig struct {
	LogFormat string `json:"logformat"`
	LogLevel  string `json:"loglevel"`
	Port      int    `json:"port"`
	// OutDir is the root under which each stream gets its own directory.
	OutDir string `json:"outdir"`
	// TimeoutS is the server-side timeout for control-plane requests.
	TimeoutS int `json:"timeout"`
	// FetchTimeoutS is the per-request timeout towards DASH origins.
	FetchTimeoutS int `json:"fetchtimeout"`
	// MP4DecryptPath is the default decryption binary for new streams.
	MP4DecryptPath string `json:"mp4decrypt"`
	CertPath       string `json:"certpath"`
	KeyPath        string `json:"keypath"`
}

var DefaultConfig = ServerConfig{
	LogFormat:      "consolepretty",
	LogLevel:       "info",
	Port:           8888,
	OutDir:         "./hls-out",
	TimeoutS:       60,
	FetchTimeoutS:  15,
	MP4DecryptPath: defaultMP4DecryptPath,
}

// LoadConfig loads defaults, config file, command line, and finally applies
// environment variables (prefix DASH2HLS_).
//
// OutDir is made absolute relative to cwd.
func LoadConfig(args []string, cwd string) (*ServerConfig, error) {
	k := koanf.New(".")
	defaults := DefaultConfig
	k.Load(structs.Provider(defaults, "json"), nil)

	f := pflag.NewFlagSet("dash2hlsd", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options]:\n", name)
		f.PrintDefaults()
	}
	cfgFile := f.String("cfg", "", "path to a JSON config file")
	f.Int("port", k.Int("port"), "HTTP port")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	ll := strings.Join(logging.LogLevels, ", ")
	f.String("loglevel", k.String("loglevel"), fmt.Sprintf("log level [%s]", ll))
	f.String("outdir", k.String("outdir"), "root directory for HLS output")
	f.Int("timeout", k.Int("timeout"), "timeout for all server requests (seconds)")
	f.Int("fetchtimeout", k.Int("fetchtimeout"), "timeout per origin request (seconds)")
	f.String("mp4decrypt", k.String("mp4decrypt"), "default decryption binary")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	if *cfgFile != "" {
		cf := file.Provider(*cfgFile)
		if err := k.Load(cf, json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// Possibly override config file with commandline parameters
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %v", err)
	}

	// Overload with environment variables
	k.Load(env.Provider("DASH2HLS_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "DASH2HLS_")), "_", ".", -1)
	}), nil)

	// Make outdir absolute in case it is not already
	outDir := k.String("outdir")
	if outDir != "" && !path.IsAbs(outDir) {
		outDir = path.Join(cwd, outDir)
		k.Load(confmap.Provider(map[string]any{
			"outdir": outDir,
		}, "."), nil)
	}

	var cfg ServerConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
