package environment

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallationID_Persists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "analytics")

	first, err := InstallationID(root)
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	require.NoError(t, err)

	second, err := InstallationID(root)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	b, err := os.ReadFile(filepath.Join(root, installationIDFile))
	require.NoError(t, err)
	assert.Equal(t, first+"\n", string(b))
}

func TestDetect_CommonAttributes(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "ko_KR.UTF-8")

	attrs, err := Detect(Options{RootDir: t.TempDir(), AppName: "demo", AppVersion: "1.2.3"})
	require.NoError(t, err)

	assert.Equal(t, runtime.GOOS, attrs["os"])
	assert.Equal(t, "ko_KR", attrs["user_locale"])
	assert.Equal(t, "ko", attrs["user_language"])
	assert.Equal(t, "demo", attrs["app_name"])
	assert.Equal(t, "1.2.3", attrs["app_version"])
	assert.Equal(t, AnalyticsVersion, attrs["analytics_version"])
	assert.NotEmpty(t, attrs["installation_id"])
	assert.Equal(t, map[string]string(attrs), attrs.Attributes())
}

func TestDetect_NoRootStillReturnsAttributes(t *testing.T) {
	attrs, err := Detect(Options{})
	assert.Error(t, err)
	assert.NotEmpty(t, attrs["installation_id"])
}

func TestDetectLocale_Fallback(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_MESSAGES", "")
	t.Setenv("LANG", "C")

	assert.Equal(t, "unknown_locale", detectLocale())
	assert.Equal(t, "unknown_language", language(detectLocale()))
}
