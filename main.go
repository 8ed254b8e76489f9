package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"kvs/core"

	"github.com/sirupsen/logrus"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const usage = `usage: kvs [flags] <command>

commands:
  set KEY VALUE   set the value of a string key to a string
  get KEY         get the string value of a given string key
  rm KEY          remove a given key

flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command against a freshly opened store and returns the
// process exit code
func run(args []string, stdout, stderr io.Writer) (exitCode int) {
	flags := flag.NewFlagSet("kvs", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", core.ConfigPath, "path to the configuration file")
	dataPath := flags.String("data_path", "", "directory holding the store, overrides the configuration")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	command, params := flags.Arg(0), flags.Args()
	if len(params) > 0 {
		params = params[1:]
	}

	arity := map[string]int{"set": 2, "get": 1, "rm": 1}
	expected, ok := arity[command]
	if !ok || len(params) != expected {
		flags.Usage()
		return exitUsage
	}

	config, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	if *dataPath != "" {
		config.DataPath = *dataPath
	}

	level, err := config.Level()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	logrus.SetLevel(level)
	logrus.SetOutput(stderr)

	engineConfig, err := config.EngineConfig()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	store, err := NewStore(engineConfig)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}

	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintln(stderr, err)
			exitCode = exitError
		}
	}()

	switch command {
	case "set":
		if err := store.Set(params[0], params[1]); err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}

	case "get":
		value, ok, err := store.Get(params[0])
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}

		if !ok {
			fmt.Fprintln(stdout, "Key not found")
			return exitOK
		}
		fmt.Fprintln(stdout, value)

	case "rm":
		if err := store.Remove(params[0]); err != nil {
			if errors.Is(err, core.ErrKeyNotFound) {
				fmt.Fprintln(stdout, "Key not found")
			} else {
				fmt.Fprintln(stderr, err)
			}
			return exitError
		}
	}

	return exitOK
}
