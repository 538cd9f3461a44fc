package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

type commandOptions struct {
	Servers        []string      `short:"s" long:"server"          required:"true"        description:"Node base uri, may be repeated"                 `
	Text           bool          `          long:"text"                                   description:"Use text frames instead of binary frames"       `
	Language       string        `          long:"language"        default:"en"           description:"Language tag sent with requests"                `
	Rate           uint          `short:"r" long:"rate"            default:"100"          description:"Target requests per second"                     `
	Workers        uint          `short:"w" long:"workers"         default:"4"            description:"Number of parallel workers to use"              `
	MaxInFlight    int           `          long:"max-in-flight"   default:"0"            description:"Maximum requests in flight, 0 for unlimited"    `
	Requests       uint64        `short:"n" long:"requests"        default:"1000"         description:"Total number of requests to send"               `
	RequestTimeout time.Duration `          long:"request-timeout" default:"10s"          description:"How long a request waits for its reply"         `
	Verbose        bool          `short:"v" long:"verbose"                                description:"Verbose"                                        `
	Mix            struct {
		WriteRatio     float64 `  long:"write-ratio"     default:"0.1"          description:"Fraction of requests which are writes"          `
		NotifyRatio    float64 `  long:"notify-ratio"    default:"0"            description:"Fraction of writes sent without waiting"         `
		KeyPrefix      string  `  long:"key-prefix"      default:"loadtest."    description:"Key name prefix"                                 `
		KeyCardinality uint    `  long:"key-cardinality" default:"100"          description:"Number of distinct keys"                         `
		ValueSize      uint    `  long:"value-size"      default:"16"           description:"Size of written values"                          `
	} `group:"Request mix"`
}

func parseArgs(args []string) commandOptions {
	var opts commandOptions
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.LongDescription = "" + // because gofmt
		"Reads are kv.get and go to the read nodes, writes are kv.put and go to the write node.\n" +
		"Reads of keys which were never written report NotFound, which is counted as a\n" +
		"successful round trip."

	positional, err := parser.ParseArgs(args)
	if err != nil {
		if !isHelp(err) {
			parser.WriteHelp(os.Stderr)
			_, _ = fmt.Fprintf(os.Stderr, "\n\nerror parsing command line: %v\n", err)
			os.Exit(1)
		}
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}

	if len(positional) != 0 {
		// Near as I can tell there's no way to say no positional arguments allowed.
		parser.WriteHelp(os.Stderr)
		_, _ = fmt.Fprintf(os.Stderr, "\n\nno positional arguments allowed\n")
		os.Exit(1)
	}

	if err := opts.validate(); err != nil {
		parser.WriteHelp(os.Stderr)
		_, _ = fmt.Fprintf(os.Stderr, "\n\n%v\n", err)
		os.Exit(1)
	}
	return opts
}

func (opts commandOptions) validate() error {
	switch {
	case opts.Rate == 0:
		return fmt.Errorf("rate must be positive")
	case opts.Workers == 0:
		return fmt.Errorf("workers must be positive")
	case opts.MaxInFlight < 0:
		return fmt.Errorf("max-in-flight must not be negative")
	case opts.Mix.WriteRatio < 0 || opts.Mix.WriteRatio > 1:
		return fmt.Errorf("write-ratio must be between 0 and 1")
	case opts.Mix.NotifyRatio < 0 || opts.Mix.NotifyRatio > 1:
		return fmt.Errorf("notify-ratio must be between 0 and 1")
	case opts.Mix.KeyCardinality == 0:
		return fmt.Errorf("key-cardinality must be positive")
	}
	return nil
}

// isHelp is a helper to test the error from ParseArgs() to
// determine if the help message was written. It is safe to
// call without first checking that error is nil.
func isHelp(err error) bool {
	// This was copied from https://github.com/jessevdk/go-flags/blame/master/help.go#L499, as there has not been an
	// official release yet with this code. Renamed from WriteHelp to isHelp, as flags.ErrHelp is still returned when
	// flags.HelpFlag is set, flags.PrintError is clear, and -h/--help is passed on the command line, even though the
	// help is not displayed in such a situation.
	if err == nil { // No error
		return false
	}

	flagError, ok := err.(*flags.Error)
	if !ok { // Not a go-flag error
		return false
	}

	if flagError.Type != flags.ErrHelp { // Did not print the help message
		return false
	}

	return true
}
