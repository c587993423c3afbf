// Package config loads shippy settings from the environment, an optional .env file and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
	"github.com/spf13/pflag"
)

// Environment variables read by Load.
const (
	ServerKey              = "SHIPPY_SERVER"
	TokenKey               = "SHIPPY_TOKEN"
	ChunkSizeKey           = "SHIPPY_CHUNK_SIZE"
	DebugKey               = "SHIPPY_DEBUG"
	UploadWithoutPromptKey = "SHIPPY_UPLOAD_WITHOUT_PROMPT"
	PatternKey             = "SHIPPY_PATTERN"
	DisableAfterUploadKey  = "SHIPPY_DISABLE_AFTER_UPLOAD"
	SkipUpdateCheckKey     = "SHIPPY_SKIP_UPDATE_CHECK"
	UpdateCheckURLKey      = "SHIPPY_UPDATE_CHECK_URL"
)

// DefaultDotenvPath is the .env file read from the working directory.
const DefaultDotenvPath = ".env"

// ErrMissingScheme is returned for server URLs without http:// or https://.
var ErrMissingScheme = errors.New("server URL is missing either http:// or https://")

// Config ...
type Config struct {
	ServerURL          string          `env:"SHIPPY_SERVER" validate:"required,url"`
	Token              stepconf.Secret `env:"SHIPPY_TOKEN"`
	ChunkSize          string          `env:"SHIPPY_CHUNK_SIZE" default:"10000000" validate:"required,bytesize"`
	Debug              bool            `env:"SHIPPY_DEBUG"`
	Yes                bool            `env:"SHIPPY_UPLOAD_WITHOUT_PROMPT"`
	Pattern            string          `env:"SHIPPY_PATTERN" default:"*.zip" validate:"required"`
	DisableAfterUpload bool            `env:"SHIPPY_DISABLE_AFTER_UPLOAD"`
	SkipUpdateCheck    bool            `env:"SHIPPY_SKIP_UPDATE_CHECK"`
	UpdateCheckURL     string          `env:"SHIPPY_UPDATE_CHECK_URL" default:"https://api.github.com/repos/ericswpark/shippy/releases/latest" validate:"omitempty,url"`
}

// Loader reads a Config. Process environment values take precedence over .env values.
type Loader struct {
	envRepo     env.Repository
	dotenvPaths []string
}

// NewLoader creates a Loader. Missing .env files are ignored.
func NewLoader(envRepo env.Repository, dotenvPaths ...string) Loader {
	return Loader{envRepo: envRepo, dotenvPaths: dotenvPaths}
}

// Load returns the configuration with defaults applied. It is not validated.
func (l Loader) Load() (Config, error) {
	if err := l.applyDotenv(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := stepconf.NewInputParser(l.envRepo).Parse(&cfg); err != nil {
		return Config{}, err
	}
	defaults.SetDefaults(&cfg)

	return cfg, nil
}

// applyDotenv copies .env values into the repository for keys the process environment leaves unset.
// The first file listing a key wins.
func (l Loader) applyDotenv() error {
	for _, path := range l.dotenvPaths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		values, err := godotenv.Read(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		for key, value := range values {
			if l.envRepo.Get(key) != "" {
				continue
			}
			if err := l.envRepo.Set(key, value); err != nil {
				return fmt.Errorf("set %s from %s: %w", key, path, err)
			}
		}
	}
	return nil
}

// RegisterFlags binds command line flags to the configuration. Call it after Load so the
// loaded values become the flag defaults.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ServerURL, "server", c.ServerURL, "shipper server URL (env: "+ServerKey+")")
	fs.Var(secretValue{&c.Token}, "token", "API token (env: "+TokenKey+")")
	fs.StringVar(&c.ChunkSize, "chunk-size", c.ChunkSize, "maximum chunk size, e.g. 10MB or 8MiB (env: "+ChunkSizeKey+")")
	fs.StringVar(&c.Pattern, "pattern", c.Pattern, "glob for builds in the working directory (env: "+PatternKey+")")
	fs.BoolVarP(&c.Yes, "yes", "y", c.Yes, "upload builds without prompting (env: "+UploadWithoutPromptKey+")")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "enable debug logging (env: "+DebugKey+")")
	fs.BoolVar(&c.DisableAfterUpload, "disable", c.DisableAfterUpload, "disable builds right after uploading (env: "+DisableAfterUploadKey+")")
	fs.BoolVar(&c.SkipUpdateCheck, "skip-update-check", c.SkipUpdateCheck, "do not check for a newer shippy release (env: "+SkipUpdateCheckKey+")")
}

// Validate normalizes the server URL and checks every field.
func (c *Config) Validate() error {
	if c.ServerURL != "" {
		serverURL, err := NormalizeServerURL(c.ServerURL)
		if err != nil {
			return err
		}
		c.ServerURL = serverURL
	}

	if err := newValidator().Struct(c); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return formatValidationErrors(validationErrors)
		}
		return err
	}
	return nil
}

// ChunkSizeBytes returns the chunk size in bytes, or 0 if it does not parse. Validate reports
// the parse error.
func (c Config) ChunkSizeBytes() int64 {
	size, err := ParseByteSize(c.ChunkSize)
	if err != nil {
		return 0
	}
	return size.Int64()
}

// Print writes the configuration with secrets masked.
func (c Config) Print() {
	stepconf.Print(c)
}

// NormalizeServerURL trims whitespace and trailing slashes and requires an http or https scheme.
func NormalizeServerURL(raw string) (string, error) {
	u := strings.TrimSpace(raw)
	lower := strings.ToLower(u)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "", ErrMissingScheme
	}
	return strings.TrimRight(u, "/"), nil
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		if name, _, _ := strings.Cut(field.Tag.Get("env"), ","); name != "" {
			return name
		}
		return field.Name
	})
	// Registering a static tag on a fresh validator cannot fail.
	_ = validate.RegisterValidation("bytesize", func(fl validator.FieldLevel) bool {
		_, err := ParseByteSize(fl.Field().String())
		return err == nil
	})
	return validate
}

func formatValidationErrors(validationErrors validator.ValidationErrors) error {
	var messages []string
	for _, fieldErr := range validationErrors {
		switch fieldErr.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", fieldErr.Field()))
		case "url":
			messages = append(messages, fmt.Sprintf("%s is not a valid URL", fieldErr.Field()))
		case "bytesize":
			messages = append(messages, fmt.Sprintf("%s is not a positive size: %q", fieldErr.Field(), fmt.Sprint(fieldErr.Value())))
		default:
			messages = append(messages, fmt.Sprintf("%s is invalid (%s=%s)", fieldErr.Field(), fieldErr.Tag(), fieldErr.Param()))
		}
	}
	return errors.New(strings.Join(messages, "; "))
}
