package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load_Defaults(t *testing.T) {
	cfg, err := NewLoader(fakeEnvRepo{envVars: map[string]string{}}).Load()
	require.NoError(t, err)

	assert.Equal(t, Config{
		ChunkSize:      "10000000",
		Pattern:        "*.zip",
		UpdateCheckURL: "https://api.github.com/repos/ericswpark/shippy/releases/latest",
	}, cfg)
	assert.Equal(t, int64(10_000_000), cfg.ChunkSizeBytes())
}

func TestLoader_Load_Environment(t *testing.T) {
	envRepo := fakeEnvRepo{envVars: map[string]string{
		ServerKey:              "https://shipper.example.com/",
		TokenKey:               "abc123",
		ChunkSizeKey:           "8MiB",
		DebugKey:               "true",
		UploadWithoutPromptKey: "yes",
		PatternKey:             "Bliss-v*.zip",
		DisableAfterUploadKey:  "1",
		SkipUpdateCheckKey:     "true",
		UpdateCheckURLKey:      "https://releases.example.com/latest",
	}}

	cfg, err := NewLoader(envRepo).Load()
	require.NoError(t, err)

	assert.Equal(t, Config{
		ServerURL:          "https://shipper.example.com/",
		Token:              "abc123",
		ChunkSize:          "8MiB",
		Debug:              true,
		Yes:                true,
		Pattern:            "Bliss-v*.zip",
		DisableAfterUpload: true,
		SkipUpdateCheck:    true,
		UpdateCheckURL:     "https://releases.example.com/latest",
	}, cfg)
	assert.Equal(t, int64(8*1024*1024), cfg.ChunkSizeBytes())
}

func TestLoader_Load_Dotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := fmt.Sprintf("%s=http://localhost:8000\n%s=from-file\n%s=5MB\n", ServerKey, TokenKey, ChunkSizeKey)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	envRepo := fakeEnvRepo{envVars: map[string]string{TokenKey: "from-env"}}
	cfg, err := NewLoader(envRepo, path, filepath.Join(t.TempDir(), "missing.env")).Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.ServerURL)
	assert.Equal(t, stepconf.Secret("from-env"), cfg.Token)
	assert.Equal(t, int64(5_000_000), cfg.ChunkSizeBytes())
	assert.Equal(t, "http://localhost:8000", envRepo.Get(ServerKey))
}

func TestLoader_Load_Invalid(t *testing.T) {
	tests := []struct {
		name string
		envs map[string]string
	}{
		{name: "bool", envs: map[string]string{DebugKey: "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(fakeEnvRepo{envVars: tt.envs}).Load()
			assert.Error(t, err)
		})
	}
}

func TestConfig_RegisterFlags(t *testing.T) {
	cfg, err := NewLoader(fakeEnvRepo{envVars: map[string]string{
		ServerKey: "https://env.example.com",
		TokenKey:  "env-token",
	}}).Load()
	require.NoError(t, err)

	fs := pflag.NewFlagSet("shippy", pflag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--server", "https://flag.example.com", "--chunk-size", "2MB", "-y", "--disable", "build.zip"}))

	assert.Equal(t, "https://flag.example.com", cfg.ServerURL)
	assert.Equal(t, stepconf.Secret("env-token"), cfg.Token)
	assert.Equal(t, int64(2_000_000), cfg.ChunkSizeBytes())
	assert.True(t, cfg.Yes)
	assert.True(t, cfg.DisableAfterUpload)
	assert.False(t, cfg.Debug)
	assert.Equal(t, []string{"build.zip"}, fs.Args())
}

func TestConfig_RegisterFlags_Token(t *testing.T) {
	var cfg Config
	fs := pflag.NewFlagSet("shippy", pflag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--token", "flag-token"}))

	assert.Equal(t, stepconf.Secret("flag-token"), cfg.Token)
	assert.Equal(t, "*****", fs.Lookup("token").Value.String())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantURL   string
		wantError string
	}{
		{
			name:    "valid",
			cfg:     Config{ServerURL: "https://shipper.example.com//", ChunkSize: "1", Pattern: "*.zip", UpdateCheckURL: "https://releases.example.com/latest"},
			wantURL: "https://shipper.example.com",
		},
		{
			name:      "missing server",
			cfg:       Config{ChunkSize: "1", Pattern: "*.zip", UpdateCheckURL: "https://releases.example.com/latest"},
			wantError: "SHIPPY_SERVER is required",
		},
		{
			name:      "missing scheme",
			cfg:       Config{ServerURL: "shipper.example.com", ChunkSize: "1", Pattern: "*.zip", UpdateCheckURL: "https://releases.example.com/latest"},
			wantError: ErrMissingScheme.Error(),
		},
		{
			name:      "missing chunk size",
			cfg:       Config{ServerURL: "http://localhost:8000", Pattern: "*.zip", UpdateCheckURL: "https://releases.example.com/latest"},
			wantError: "SHIPPY_CHUNK_SIZE is required",
		},
		{
			name:      "zero chunk size",
			cfg:       Config{ServerURL: "http://localhost:8000", ChunkSize: "0", Pattern: "*.zip", UpdateCheckURL: "https://releases.example.com/latest"},
			wantError: `SHIPPY_CHUNK_SIZE is not a positive size: "0"`,
		},
		{
			name:      "unparseable chunk size",
			cfg:       Config{ServerURL: "http://localhost:8000", ChunkSize: "huge", Pattern: "*.zip", UpdateCheckURL: "https://releases.example.com/latest"},
			wantError: `SHIPPY_CHUNK_SIZE is not a positive size: "huge"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantError, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, tt.cfg.ServerURL)
		})
	}
}

func TestNormalizeServerURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://shipper.example.com/", want: "https://shipper.example.com"},
		{in: " HTTP://localhost:8000 ", want: "HTTP://localhost:8000"},
		{in: "https://shipper.example.com/sub/", want: "https://shipper.example.com/sub"},
		{in: "ftp://shipper.example.com", wantErr: true},
		{in: "shipper.example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeServerURL(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMissingScheme)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    ByteSize
		wantErr bool
	}{
		{in: "10MB", want: 10_000_000},
		{in: "10mb", want: 10_000_000},
		{in: "8MiB", want: 8 * 1024 * 1024},
		{in: "512KiB", want: 512 * 1024},
		{in: "1000", want: 1000},
		{in: "", wantErr: true},
		{in: "0", wantErr: true},
		{in: "ten", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseByteSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_ChunkSizeBytes_Invalid(t *testing.T) {
	assert.Equal(t, int64(0), Config{ChunkSize: "-5"}.ChunkSizeBytes())
}

func TestConfig_Print(t *testing.T) {
	cfg := Config{ServerURL: "https://shipper.example.com", Token: "hunter2", ChunkSize: "10MB", Pattern: "*.zip"}
	assert.NotPanics(t, cfg.Print)
}

func TestConfig_Validate_UpdateCheckURL(t *testing.T) {
	cfg := Config{ServerURL: "https://shipper.example.com", ChunkSize: "1", Pattern: "*.zip", UpdateCheckURL: "not a url"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, "SHIPPY_UPDATE_CHECK_URL is not a valid URL", err.Error())
}
