package config

import "flag"

// Flags holds command-line overrides registered on a flag set.
type Flags struct {
	Config         string
	Debug          bool
	Out            string
	NoSkin         bool
	ReverseWinding bool
	TwoSided       bool
	LogFile        string
	Archive        string
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Config, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.Out, "out", "", "Write the report to this file instead of stdout")
	fs.BoolVar(&f.NoSkin, "no-skin", false, "Import every mesh as rigid")
	fs.BoolVar(&f.ReverseWinding, "reverse-winding", false, "Emit RSM faces with reversed winding")
	fs.BoolVar(&f.TwoSided, "two-sided", false, "Emit back faces for every RSM face")
	fs.StringVar(&f.LogFile, "log-file", "", "Also write logs to this rotating file")
	fs.StringVar(&f.Archive, "grf", "", "Read model paths from this GRF archive")
	return f
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.Out != "" {
		cfg.Output.ReportPath = f.Out
	}
	if f.NoSkin {
		cfg.Import.Skinning = false
	}
	if f.ReverseWinding {
		cfg.Import.ReverseWinding = true
	}
	if f.TwoSided {
		cfg.Import.ForceAllTwoSided = true
	}
	if f.LogFile != "" {
		cfg.Logging.LogFile = f.LogFile
	}
	if f.Archive != "" {
		cfg.Import.Archive = f.Archive
	}
}
