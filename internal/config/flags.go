package config

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// Flags holds the parsed command line.
type Flags struct {
	ConfigPath string
	Debug      bool
	GRF        string
	Format     string
	Summary    bool
	SaveConfig string

	// Args holds the positional arguments left after flag parsing.
	Args []string
}

// ParseFlags parses args (without the program name). Flag errors and the
// usage text are written to output.
func ParseFlags(program string, args []string, output io.Writer) (*Flags, error) {
	f := &Flags{}

	fs := flag.NewFlagSet(program, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.GRF, "grf", "", "Comma-separated GRF archives to search")
	fs.StringVar(&f.Format, "format", "", "Force input format (rsm, gltf)")
	fs.BoolVar(&f.Summary, "summary", false, "Print animation summary to stdout")
	fs.StringVar(&f.SaveConfig, "save-config", "", "Write the effective config to this path")
	fs.Usage = func() {
		fmt.Fprintf(output, "usage: %s <file>\n", program)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.Args = fs.Args()
	return f, nil
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config, f *Flags) {
	if f == nil {
		return
	}
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.GRF != "" {
		for _, p := range strings.Split(f.GRF, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Import.GRFPaths = append(cfg.Import.GRFPaths, p)
			}
		}
	}
	if f.Format != "" {
		cfg.Import.Format = strings.ToLower(f.Format)
	}
	if f.Summary {
		cfg.Report.Summary = true
	}
}
