package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/c2h5oh/datasize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost          = "localhost"
	DefaultPort          = "5678"
	DefaultAdminAddr     = "localhost:9121"
	DefaultPopBufferSize = 1024
)

type AuthConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type DebugConfig struct {
	// Percentage of queue allocations refused on purpose.
	AllocFailPercent int   `yaml:"alloc_fail_percent"`
	AllocFailSeed    int64 `yaml:"alloc_fail_seed"`
}

type ServerOptions struct {
	Host      string `yaml:"host"`
	Port      string `yaml:"port"`
	AdminAddr string `yaml:"admin_addr"`

	Auth AuthConfig `yaml:"auth"`

	// Upper bound for the memory held by queues, 0 means no limit.
	MaxMemory datasize.ByteSize `yaml:"maxmemory"`
	// Size of the buffer popped values are copied through. Longer values
	// are truncated to PopBufferSize-1 bytes.
	PopBufferSize int `yaml:"pop_buffer_size"`

	Log   LogConfig   `yaml:"log"`
	Debug DebugConfig `yaml:"debug"`
}

func (o *ServerOptions) AuthEnabled() bool {
	return o.Auth.Password != ""
}

func (o *ServerOptions) Validate() error {
	port, err := strconv.Atoi(o.Port)
	if err != nil || port < 0 || port > 65535 {
		return errors.Errorf("invalid port %q", o.Port)
	}
	if o.PopBufferSize < 1 {
		return errors.Errorf("pop_buffer_size must be at least 1, got %d", o.PopBufferSize)
	}
	if _, err := levelOption(o.Log.Level); err != nil {
		return err
	}
	switch o.Log.Format {
	case "logfmt", "json":
	default:
		return errors.Errorf("unsupported log format %q", o.Log.Format)
	}
	if o.Debug.AllocFailPercent < 0 || o.Debug.AllocFailPercent > 100 {
		return errors.Errorf("alloc_fail_percent must be between 0 and 100, got %d", o.Debug.AllocFailPercent)
	}
	return nil
}

// Source fills in part of the options. Sources are applied in order, so
// later ones override earlier ones.
type Source func(*ServerOptions) error

func Unmarshal(dst *ServerOptions, sources ...Source) error {
	for _, source := range sources {
		if err := source(dst); err != nil {
			return errors.Wrap(err, "sourcing")
		}
	}
	return nil
}

func Defaults() Source {
	return func(o *ServerOptions) error {
		*o = ServerOptions{
			Host:          DefaultHost,
			Port:          DefaultPort,
			AdminAddr:     DefaultAdminAddr,
			PopBufferSize: DefaultPopBufferSize,
			Log:           LogConfig{Level: "info", Format: "logfmt"},
		}
		return nil
	}
}

// YAMLFile reads options from a YAML file. Unknown fields are an error.
func YAMLFile(path string) Source {
	return func(o *ServerOptions) error {
		if !FileExists(path) {
			return errors.Errorf("config file %s does not exist", path)
		}
		f, err := os.Open(path)
		if err != nil {
			return errors.Wrap(err, "opening config file")
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(o); err != nil {
			return errors.Wrapf(err, "parsing config file %s", path)
		}
		return nil
	}
}

// Flags parses command line flags. Every flag defaults to the value the
// previous sources left behind, so only flags given explicitly override
// them.
func Flags(args []string) Source {
	return func(o *ServerOptions) error {
		var maxMemory string

		app := kingpin.New("memoq", "A Redis compatible server for string queues.")
		app.HelpFlag.Short('h')
		app.Version(MemoVersion)

		app.Flag("config.file", "YAML file to load options from.").String()
		app.Flag("host", "Interface to listen on.").Default(o.Host).StringVar(&o.Host)
		app.Flag("port", "Port to run server.").Short('p').Default(o.Port).StringVar(&o.Port)
		app.Flag("admin-addr", "Address for the metrics and debug HTTP server, empty to disable.").Default(o.AdminAddr).StringVar(&o.AdminAddr)
		app.Flag("user", "User for authentication.").Short('u').Default(o.Auth.User).StringVar(&o.Auth.User)
		app.Flag("password", "Password for authentication, empty disables it.").Default(o.Auth.Password).StringVar(&o.Auth.Password)
		app.Flag("maxmemory", "Memory limit for queues, e.g. 64MB. 0 means no limit.").Default(o.MaxMemory.String()).StringVar(&maxMemory)
		app.Flag("pop-buffer-size", "Buffer size for popped values.").Default(strconv.Itoa(o.PopBufferSize)).IntVar(&o.PopBufferSize)
		app.Flag("log.level", "Only log messages with the given severity or above. One of: [debug, info, warn, error]").Default(o.Log.Level).StringVar(&o.Log.Level)
		app.Flag("log.format", "Output format of log messages. One of: [logfmt, json]").Default(o.Log.Format).StringVar(&o.Log.Format)
		app.Flag("debug.alloc-fail-percent", "Refuse this percentage of queue allocations.").Default(strconv.Itoa(o.Debug.AllocFailPercent)).IntVar(&o.Debug.AllocFailPercent)
		app.Flag("debug.alloc-fail-seed", "Seed for refused allocations.").Default(strconv.FormatInt(o.Debug.AllocFailSeed, 10)).Int64Var(&o.Debug.AllocFailSeed)

		if _, err := app.Parse(args); err != nil {
			return errors.Wrap(err, "parsing flags")
		}

		size, err := datasize.ParseString(maxMemory)
		if err != nil {
			return errors.Wrapf(err, "invalid maxmemory %q", maxMemory)
		}
		o.MaxMemory = size
		return nil
	}
}

// configFileArg finds the value of --config.file without parsing the
// other flags.
func configFileArg(args []string) string {
	for i, arg := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config.file" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// ParseOptions builds the server options from defaults, the config file
// and the command line, in that order.
func ParseOptions(args []string) (*ServerOptions, error) {
	sources := []Source{Defaults()}
	if path := configFileArg(args); path != "" {
		sources = append(sources, YAMLFile(path))
	}
	sources = append(sources, Flags(args))

	options := &ServerOptions{}
	if err := Unmarshal(options, sources...); err != nil {
		return nil, err
	}
	if err := options.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid options")
	}
	return options, nil
}
