package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
repository:
  owner: octocat
  name: sandbox
accounts:
  primary:
    username: octocat
    token: tok-primary
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, 100, cfg.RateLimit.Buffer)
	assert.Equal(t, time.Second, cfg.RateLimit.MinInterval.Std())
	assert.Equal(t, []int{2, 16, 128, 1024}, cfg.Workflow(WorkflowPullShark).Thresholds)
	assert.Equal(t, 5*time.Minute, cfg.Workflow(WorkflowQuickdraw).TimeLimit.Std())
}

func TestLoadExpandsEnvReferences(t *testing.T) {
	t.Setenv("TEST_BH_TOKEN", "tok-from-env")
	path := writeConfig(t, `
repository:
  owner: octocat
  name: sandbox
accounts:
  primary:
    username: octocat
    token: ${TEST_BH_TOKEN}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-from-env", cfg.Accounts.Primary.Token)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
repository:
  owner: octocat
  name: sandbox
  onwer_typo: oops
accounts:
  primary:
    username: octocat
    token: tok
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestLoadRejectsUnknownWorkflow(t *testing.T) {
	path := writeConfig(t, `
repository:
  owner: octocat
  name: sandbox
accounts:
  primary:
    username: octocat
    token: tok
workflows:
  starstruck:
    enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRequiresCredentialsUnlessDryRun(t *testing.T) {
	cfg := Default()
	cfg.Repository.Owner = ""
	require.Error(t, cfg.Validate())

	cfg.DryRun = true
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsNonIncreasingThresholds(t *testing.T) {
	cfg := Default()
	cfg.DryRun = true
	cfg.Workflows[WorkflowPullShark] = WorkflowConfig{Thresholds: []int{2, 2, 16}}
	require.Error(t, cfg.Validate())
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("BADGEHUNTER_DRY_RUN", "true")
	t.Setenv("BADGEHUNTER_REPO_NAME", "override-repo")
	path := writeConfig(t, `
repository:
  owner: octocat
  name: sandbox
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "override-repo", cfg.Repository.Name)
}
