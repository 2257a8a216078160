package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meigma/untard/extract"
	untardhttp "github.com/meigma/untard/http"
)

type config struct {
	Listen               string        `yaml:"listen"`
	Dest                 string        `yaml:"dest"`
	DocsPrefix           string        `yaml:"docs_prefix"`
	MaxUpload            string        `yaml:"max_upload"`
	MaxConcurrentUploads int           `yaml:"max_concurrent_uploads"`
	FailurePolicy        string        `yaml:"failure_policy"`
	MaxFileSize          string        `yaml:"max_file_size"`
	PreserveMode         bool          `yaml:"preserve_mode"`
	PreserveTimes        bool          `yaml:"preserve_times"`
	DirectWrites         bool          `yaml:"direct_writes"`
	ParallelBlocks       int           `yaml:"parallel_blocks"`
	LogLevel             string        `yaml:"log_level"`
	LogFormat            string        `yaml:"log_format"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout"`
}

func defaultConfig() config {
	return config{
		Listen:          "0.0.0.0:3000",
		Dest:            "payload",
		DocsPrefix:      untardhttp.DefaultDocsPrefix,
		MaxUpload:       "100MiB",
		FailurePolicy:   extract.PolicyDirAborts.String(),
		MaxFileSize:     "0",
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownTimeout: 10 * time.Second,
	}
}

// loadConfig layers explicitly set flags over the optional -config file,
// which is layered over the defaults.
func loadConfig(args []string, output io.Writer) (config, error) {
	cfg := defaultConfig()
	var path string

	fs := flag.NewFlagSet("untard", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&path, "config", "", "YAML config file")
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "listen address")
	fs.StringVar(&cfg.Dest, "dest", cfg.Dest, "destination directory for extracted archives")
	fs.StringVar(&cfg.DocsPrefix, "docs-prefix", cfg.DocsPrefix, "URL prefix for serving extracted files")
	fs.StringVar(&cfg.MaxUpload, "max-upload", cfg.MaxUpload, "request body ceiling (e.g. 100MiB)")
	fs.IntVar(&cfg.MaxConcurrentUploads, "max-concurrent-uploads", cfg.MaxConcurrentUploads, "uploads extracted at once (0 = unlimited)")
	fs.StringVar(&cfg.FailurePolicy, "failure-policy", cfg.FailurePolicy, "failure policy: dir-aborts, continue, abort-field")
	fs.StringVar(&cfg.MaxFileSize, "max-file-size", cfg.MaxFileSize, "largest extracted file (0 = unlimited)")
	fs.BoolVar(&cfg.PreserveMode, "preserve-mode", cfg.PreserveMode, "apply archive permission bits")
	fs.BoolVar(&cfg.PreserveTimes, "preserve-times", cfg.PreserveTimes, "apply archive modification times")
	fs.BoolVar(&cfg.DirectWrites, "direct-writes", cfg.DirectWrites, "write files in place instead of temp file and rename")
	fs.IntVar(&cfg.ParallelBlocks, "parallel-blocks", cfg.ParallelBlocks, "parallel gzip blocks (0 = serial)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if fs.NArg() > 0 {
		return config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if path == "" {
		return cfg, nil
	}

	set := make(map[string]string)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = f.Value.String()
	})

	cfg = defaultConfig()
	if err := readConfigFile(path, &cfg); err != nil {
		return config{}, err
	}
	for name, value := range set {
		if err := fs.Set(name, value); err != nil {
			return config{}, err
		}
	}
	return cfg, nil
}

func readConfigFile(path string, cfg *config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *config) extractOptions() ([]extract.Option, error) {
	policy, err := extract.ParseFailurePolicy(c.FailurePolicy)
	if err != nil {
		return nil, err
	}
	maxFile, err := parseSize(c.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("max-file-size: %w", err)
	}
	return []extract.Option{
		extract.WithFailurePolicy(policy),
		extract.WithMaxFileSize(maxFile),
		extract.WithPreserveMode(c.PreserveMode),
		extract.WithPreserveTimes(c.PreserveTimes),
		extract.WithDirectWrites(c.DirectWrites),
		extract.WithParallelDecompression(c.ParallelBlocks, 0),
	}, nil
}

func (c *config) serverOptions() ([]untardhttp.Option, error) {
	maxUpload, err := parseSize(c.MaxUpload)
	if err != nil {
		return nil, fmt.Errorf("max-upload: %w", err)
	}
	if maxUpload == 0 {
		return nil, errors.New("max-upload: must be positive")
	}
	return []untardhttp.Option{
		untardhttp.WithMaxUploadBytes(maxUpload),
		untardhttp.WithMaxConcurrentUploads(c.MaxConcurrentUploads),
		untardhttp.WithDocsPrefix(c.DocsPrefix),
	}, nil
}
