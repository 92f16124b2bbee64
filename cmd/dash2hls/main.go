// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// dash2hls is the command line client for the dash2hlsd control plane.
//
// Usage:
//
//	dash2hls add --url <mpd-url> [--key KEY [--kid KID]] [options]
//	dash2hls list
//	dash2hls get <stream-id>
//	dash2hls remove <stream-id>
//
// Exit codes: 0 success, 1 bad input, 2 server unreachable, 3 stream not found.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const (
	exitOK          = 0
	exitBadInput    = 1
	exitUnreachable = 2
	exitNotFound    = 3
)

const defaultServer = "http://localhost:8888"

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr, args[0])
		return exitBadInput
	}
	switch args[1] {
	case "add":
		return runAdd(args, stdout, stderr)
	case "list":
		return runList(args, stdout, stderr)
	case "get":
		return runGet(args, stdout, stderr)
	case "remove":
		return runRemove(args, stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, versionLine())
		return exitOK
	case "-h", "--help", "help":
		usage(stdout, args[0])
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr, args[0])
		return exitBadInput
	}
}

func usage(w io.Writer, arg0 string) {
	parts := strings.Split(arg0, "/")
	name := parts[len(parts)-1]
	fmt.Fprintf(w, `Usage: %s <command> [options]

Commands:
  add      start a new DASH to HLS conversion
  list     list all streams
  get      show one stream
  remove   stop and remove a stream
  version  print version

Run %s <command> -h for command options.
`, name, name)
}

func newFlagSet(name string, stderr io.Writer) (*pflag.FlagSet, *string) {
	f := pflag.NewFlagSet(name, pflag.ContinueOnError)
	f.SetOutput(stderr)
	server := f.String("server", defaultServer, "dash2hlsd base URL")
	return f, server
}

func runAdd(args []string, stdout, stderr io.Writer) int {
	f, server := newFlagSet("add", stderr)
	url := f.String("url", "", "DASH manifest (MPD) URL (required)")
	key := f.String("key", "", "CENC key (32 hex chars)")
	kid := f.String("kid", "", "KID for --key (32 hex chars, default: from MPD)")
	keyMap := f.StringArray("key-map", nil, "KID:KEY pair, repeatable")
	headers := f.StringArray("header", nil, "extra HTTP header Name:Value, repeatable")
	rep := f.String("rep", "", "force a representation id")
	label := f.String("label", "", "display label")
	poll := f.Float64("poll", 0, "poll interval in seconds (live)")
	window := f.Int("window", 0, "sliding window size (live)")
	history := f.Int("history", 0, "processed history capacity")
	outputDir := f.String("output", "", "override output directory")
	mp4decrypt := f.String("mp4decrypt", "", "decryption binary path")
	if err := f.Parse(args[2:]); err != nil {
		return exitBadInput
	}
	if *url == "" {
		fmt.Fprintln(stderr, "--url is required")
		return exitBadInput
	}

	cfg := streamConfig{
		MPDURL:           *url,
		Key:              *key,
		KID:              *kid,
		MP4DecryptPath:   *mp4decrypt,
		RepresentationID: *rep,
		Label:            *label,
		PollIntervalS:    *poll,
		WindowSize:       *window,
		HistorySize:      *history,
		OutputDir:        *outputDir,
	}
	var err error
	if cfg.KeyMap, err = parsePairs(*keyMap, "key-map"); err != nil {
		fmt.Fprintln(stderr, err)
		return exitBadInput
	}
	if cfg.Headers, err = parsePairs(*headers, "header"); err != nil {
		fmt.Fprintln(stderr, err)
		return exitBadInput
	}

	info, code, err := newClient(*server).createStream(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return code
	}
	fmt.Fprintf(stdout, "%s\t%s\t%s\n", info.ID, info.Status, info.HLSURL)
	return exitOK
}

func runList(args []string, stdout, stderr io.Writer) int {
	f, server := newFlagSet("list", stderr)
	if err := f.Parse(args[2:]); err != nil {
		return exitBadInput
	}
	infos, code, err := newClient(*server).listStreams()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return code
	}
	for _, info := range infos {
		fmt.Fprintln(stdout, formatStream(&info))
	}
	return exitOK
}

func runGet(args []string, stdout, stderr io.Writer) int {
	f, server := newFlagSet("get", stderr)
	if err := f.Parse(args[2:]); err != nil {
		return exitBadInput
	}
	if f.NArg() != 1 {
		fmt.Fprintln(stderr, "get needs exactly one stream id")
		return exitBadInput
	}
	info, code, err := newClient(*server).getStream(f.Arg(0))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return code
	}
	fmt.Fprintln(stdout, formatStream(info))
	if info.Error != "" {
		fmt.Fprintf(stdout, "error: %s\n", info.Error)
	}
	return exitOK
}

func runRemove(args []string, stdout, stderr io.Writer) int {
	f, server := newFlagSet("remove", stderr)
	if err := f.Parse(args[2:]); err != nil {
		return exitBadInput
	}
	if f.NArg() != 1 {
		fmt.Fprintln(stderr, "remove needs exactly one stream id")
		return exitBadInput
	}
	id := f.Arg(0)
	code, err := newClient(*server).removeStream(id)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return code
	}
	fmt.Fprintf(stdout, "%s\tremoved\n", id)
	return exitOK
}

// parsePairs splits repeatable KEY:VALUE flags into a map.
func parsePairs(pairs []string, flagName string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, found := strings.Cut(p, ":")
		if !found || k == "" || v == "" {
			return nil, fmt.Errorf("--%s %q: want format KEY:VALUE", flagName, p)
		}
		m[k] = strings.TrimSpace(v)
	}
	return m, nil
}

func formatStream(info *streamInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%s", info.ID, info.Status)
	if info.Label != "" {
		fmt.Fprintf(&b, "\t%s", info.Label)
	}
	if info.Video != nil {
		fmt.Fprintf(&b, "\tvideo:%s@%d", info.Video.RepID, info.Video.Bandwidth)
		if info.Video.Width > 0 {
			fmt.Fprintf(&b, " %dx%d", info.Video.Width, info.Video.Height)
		}
	}
	if info.Audio != nil {
		fmt.Fprintf(&b, "\taudio:%s@%d", info.Audio.RepID, info.Audio.Bandwidth)
	}
	fmt.Fprintf(&b, "\t%s", info.HLSURL)
	return b.String()
}
