package config

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kore-signet/evergarden/internal/pkg/model"
)

const sampleConfig = `
[general]
max_hops = 5

[ratelimiter]
max_tasks_per_worker = 8
n = 50
per = "second"
jitter = "20ms"

[http]
timeout = "30s"
max_body_length = 1048576

[[http.headers]]
name = "User-Agent"
value = "evergarden/1.0"

[scripts.extractor]
command = "evergardenscraper"
args = ["--mode", "links"]
workers = 2

[scripts.extractor.filter]
url_pattern = "\\.html$"
mime_types = ["text/html"]
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesEverything(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 5, cfg.General.MaxHops)
	require.Equal(t, 8, cfg.RateLimiter.MaxTasksPerWorker)
	require.Equal(t, 50, cfg.RateLimiter.N)
	require.Equal(t, PerSecond, cfg.RateLimiter.Per)
	require.Equal(t, int64(1048576), cfg.HTTP.MaxBodyLength)
	require.Len(t, cfg.HTTP.Headers, 1)
	require.Equal(t, "User-Agent", cfg.HTTP.Headers[0].Name)

	script, ok := cfg.Scripts["extractor"]
	require.True(t, ok)
	require.Equal(t, 2, script.Workers)
}

func TestScriptFilterMatches(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	script := cfg.Scripts["extractor"]

	u, err := model.Seed("https://example.com/page.html")
	require.NoError(t, err)
	require.NoError(t, u.Parse())

	meta := &model.ResponseMetadata{
		URL:     u,
		Headers: http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
	}
	require.True(t, script.Filter.Matches(meta))

	meta.Headers.Set("Content-Type", "application/json")
	require.False(t, script.Filter.Matches(meta))

	u2, err := model.Seed("https://example.com/page.json")
	require.NoError(t, err)
	require.NoError(t, u2.Parse())
	meta.URL = u2
	meta.Headers.Set("Content-Type", "text/html")
	require.False(t, script.Filter.Matches(meta))
}

func TestScriptFilterMatchesTypeRange(t *testing.T) {
	filter := ScriptFilter{MimeTypes: []string{"image/*"}}

	u, err := model.Seed("https://example.com/logo.png")
	require.NoError(t, err)
	require.NoError(t, u.Parse())

	meta := &model.ResponseMetadata{
		URL:     u,
		Headers: http.Header{"Content-Type": []string{"image/png"}},
	}
	require.True(t, filter.Matches(meta))

	meta.Headers.Set("Content-Type", "text/html")
	require.False(t, filter.Matches(meta))
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `
[general]
max_hops = 1

[ratelimiter]
max_tasks_per_worker = 1
n = 1
per = "second"
jitter = "10ms"

[http]
max_body_length = 0
`)
	_, err := Load(path)
	require.Error(t, err)
}
