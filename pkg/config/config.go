package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/sidkik/iris-sync/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// parseConfigErrTemplate is a template for when the CLI fails to parse the
// TOML configuration file. This can happen for a multitude of reasons,
// including extraneous fields and incorrect field types. However, the toml
// library constructs errors in a way that loses context, and so we can only
// pass the error message on.
const parseConfigErrTemplate = "Configuration file could not be parsed. " +
	"Please review %q.\n" +
	"Common pitfalls include:\n" +
	" - Using the wrong types for fields\n" +
	" - Misspelling section or field names\n\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

// Compatibility settings controlling the trailing-newline fix-ups applied to
// retrieved items. "export" matches $System.OBJ.Export output; "vscode"
// matches what the VS Code ObjectScript extension expects.
const (
	CompatibilityExport = "export"
	CompatibilityVSCode = "vscode"
)

// logLevels maps the accepted loglevel setting values to log levels.
var logLevels = map[string]log.Level{
	"debug":    log.DebugLevel,
	"info":     log.InfoLevel,
	"warning":  log.WarnLevel,
	"error":    log.ErrorLevel,
	"critical": log.FatalLevel,
}

// Server describes the connection to the IRIS server.
type Server struct {
	Host      string `toml:"host"`
	Port      string `toml:"port"`
	Namespace string `toml:"namespace"`
	User      string `toml:"user"`
	Password  string `toml:"password"`
	HTTPS     bool   `toml:"https"`
	Threads   int    `toml:"threads"`
}

// EnsSettings configures the optional deployable settings export.
type EnsSettings struct {
	Name  string `toml:"name"`
	Strip bool   `toml:"strip"`
}

// Project describes which items to sync.
type Project struct {
	Items       []string    `toml:"items"`
	Lookup      []string    `toml:"lookup"`
	Mapped      bool        `toml:"mapped"`
	Generated   bool        `toml:"generated"`
	EnsSettings EnsSettings `toml:"enssettings"`
}

// Local describes where and how to store the synced items.
type Local struct {
	Dir           string `toml:"dir"`
	CSPDir        string `toml:"cspdir"`
	DataDir       string `toml:"datadir"`
	LogDir        string `toml:"logdir"`
	LogLevel      string `toml:"loglevel"`
	Subdirs       bool   `toml:"subdirs"`
	Cookies       bool   `toml:"cookies"`
	Encoding      string `toml:"encoding"`
	Compatibility string `toml:"compatibility"`

	// AugmentFrom names a second TOML file whose settings override the ones
	// in the main file. Useful for keeping credentials out of a shared
	// configuration.
	AugmentFrom string `toml:"augment_from"`

	// Retired settings, rejected with a pointer to Compatibility.
	DisableEOLFix      *bool `toml:"disable_eol_fix"`
	DisableClassEOLFix *bool `toml:"disable_class_eol_fix"`
}

// Config is the parsed and validated configuration. The derived fields are
// resolved once at load time; the rest of the code treats the whole value as
// read-only.
type Config struct {
	Server  Server  `toml:"Server"`
	Project Project `toml:"Project"`
	Local   Local   `toml:"Local"`

	// Derived at load time. Never set by the user.
	Path       string            `toml:"-"`
	SourceDir  string            `toml:"-"`
	CSPDir     string            `toml:"-"`
	DataDir    string            `toml:"-"`
	LogFile    string            `toml:"-"`
	CookieFile string            `toml:"-"`
	LogLevel   log.Level         `toml:"-"`
	Encoding   encoding.Encoding `toml:"-"`
}

// Parse reads, validates and resolves the configuration at path.
func Parse(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.WithContext(err, "expand config path")
	}
	if !filepath.IsAbs(path) {
		if path, err = filepath.Abs(path); err != nil {
			return nil, errors.WithContext(err, "resolve config path")
		}
	}

	configBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: path}
		}
		return nil, errors.WithContext(err, "read file")
	}

	config := &Config{
		Project: Project{EnsSettings: EnsSettings{Strip: true}},
		Local:   Local{Compatibility: CompatibilityExport},
	}
	if err := toml.Unmarshal(configBytes, config); err != nil {
		return nil, errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	config.Path = path

	if err := config.augment(); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	config.resolve()
	return config, nil
}

// augment merges settings from the augment_from file, if configured. Settings
// present in that file override the main file's values; everything else is
// left alone.
func (c *Config) augment() error {
	name := c.Local.AugmentFrom
	if name == "" {
		return nil
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(c.Path), path)
	}

	augmentBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewFriendlyError("augment_from file %q not found.", name)
		}
		return errors.WithContext(err, "read augment file")
	}

	if err := toml.Unmarshal(augmentBytes, c); err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	return nil
}

func (c *Config) validate() error {
	svr := &c.Server
	for _, field := range []struct{ name, value string }{
		{"Server.host", svr.Host},
		{"Server.port", svr.Port},
		{"Server.namespace", svr.Namespace},
		{"Server.user", svr.User},
		{"Server.password", svr.Password},
	} {
		if field.value == "" {
			return errors.NewFriendlyError(
				"Configuration setting %q is required but empty or missing.", field.name)
		}
	}

	if svr.Threads == 0 {
		svr.Threads = 1
	}
	if svr.Threads < 1 || svr.Threads > 20 {
		return errors.NewFriendlyError("Setting 'threads' must be between 1 and 20")
	}

	local := &c.Local
	if local.DisableEOLFix != nil || local.DisableClassEOLFix != nil {
		return errors.NewFriendlyError(
			"..._eol_fix settings are no longer supported. Use 'compatibility' "+
				"setting instead. Value: false -> %q, true -> %q.",
			CompatibilityExport, CompatibilityVSCode)
	}

	switch local.Compatibility {
	case CompatibilityExport, CompatibilityVSCode:
	default:
		return errors.NewFriendlyError(
			"Setting 'compatibility' must be one of %q, %q; got %q.",
			CompatibilityExport, CompatibilityVSCode, local.Compatibility)
	}

	if local.LogLevel == "" {
		local.LogLevel = "info"
	}
	level, ok := logLevels[strings.ToLower(local.LogLevel)]
	if !ok {
		return errors.NewFriendlyError(
			"Setting 'loglevel' must be one of debug, info, warning, error, "+
				"critical; got %q.", local.LogLevel)
	}
	c.LogLevel = level

	if local.Encoding == "" {
		local.Encoding = "UTF-8"
	}
	enc, err := resolveEncoding(local.Encoding)
	if err != nil {
		return err
	}
	c.Encoding = enc

	return nil
}

// resolve determines the output directories, log file and cookie jar file.
// Relative directories are evaluated relative to the config file; the
// {cfgname} template expands to the config file's base name.
func (c *Config) resolve() {
	baseDir := filepath.Dir(c.Path)
	cfgName := strings.TrimSuffix(filepath.Base(c.Path), filepath.Ext(c.Path))

	for _, dir := range []struct {
		setting string
		def     string
		target  *string
	}{
		{c.Local.Dir, "src", &c.SourceDir},
		{c.Local.CSPDir, "csp", &c.CSPDir},
		{c.Local.DataDir, "data", &c.DataDir},
	} {
		result := dir.setting
		if result == "" {
			result = filepath.Join(cfgName, dir.def)
		}
		result = strings.ReplaceAll(result, "{cfgname}", cfgName)
		if !filepath.IsAbs(result) {
			result = filepath.Join(baseDir, result)
		}
		*dir.target = result
	}

	// Log file: next to the config file, unless logdir overrides.
	logName := cfgName + ".log"
	if !strings.EqualFold(filepath.Ext(c.Path), ".toml") {
		logName = filepath.Base(c.Path) + ".log"
	}
	logDir := c.Local.LogDir
	if logDir == "" {
		logDir = baseDir
	} else if !filepath.IsAbs(logDir) {
		logDir = filepath.Join(baseDir, logDir)
	}
	c.LogFile = filepath.Join(logDir, logName)

	// One cookie jar per distinct host:port, so multiple server configs
	// don't collide.
	c.CookieFile = filepath.Join(baseDir,
		fmt.Sprintf("cookies;%s;%s.txt", c.Server.Host, c.Server.Port))
}

func resolveEncoding(name string) (encoding.Encoding, error) {
	// The common case needs no transformation.
	if normalized := strings.ToUpper(name); normalized == "UTF-8" || normalized == "UTF8" {
		return unicode.UTF8, nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, errors.NewFriendlyError(
			"Setting 'encoding' specifies an unknown character encoding: %q.", name)
	}
	return enc, nil
}
