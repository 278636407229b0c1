package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetModelsDir(t *testing.T) {
	t.Run("explicit wins", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "/from/env")
		assert.Equal(t, "/custom/models", GetModelsDir("/custom/models"))
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "/from/env")
		assert.Equal(t, "/from/env", GetModelsDir(""))
	})

	t.Run("project root default", func(t *testing.T) {
		t.Setenv(EnvModelsDir, "")
		dir := GetModelsDir("")
		assert.Equal(t, DefaultModelsDir, filepath.Base(dir))
	})
}

func TestResolveModelPathPrefersOrganizedLayout(t *testing.T) {
	base := t.TempDir()

	flat := ResolveModelPath(base, TypeClassification, ClassifierResNet101)
	assert.Equal(t, filepath.Join(base, ClassifierResNet101), flat)

	organized := filepath.Join(base, TypeClassification, ClassifierResNet101)
	require.NoError(t, os.MkdirAll(filepath.Dir(organized), 0o755))
	require.NoError(t, os.WriteFile(organized, []byte("onnx"), 0o600))

	assert.Equal(t, organized, ResolveModelPath(base, TypeClassification, ClassifierResNet101))
	assert.Equal(t, organized, GetClassifierModelPath(base, ""))
	assert.Equal(t, filepath.Join(base, "other.onnx"), GetClassifierModelPath(base, "other.onnx"))
}

func TestOptionalPaths(t *testing.T) {
	base := t.TempDir()
	assert.Empty(t, GetLabelsPath(base))
	assert.Empty(t, GetAdvicePath(base))

	labels := filepath.Join(base, TypeLabels, LabelsFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(labels), 0o755))
	require.NoError(t, os.WriteFile(labels, []byte("- A___b\n"), 0o600))
	advice := filepath.Join(base, AdviceFile)
	require.NoError(t, os.WriteFile(advice, []byte("b: c\n"), 0o600))

	assert.Equal(t, labels, GetLabelsPath(base))
	assert.Equal(t, advice, GetAdvicePath(base))
}

func TestValidateModelExists(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "model.onnx")
	assert.Error(t, ValidateModelExists(p))

	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	assert.NoError(t, ValidateModelExists(p))
}

func TestListAvailableModels(t *testing.T) {
	infos := ListAvailableModels()
	require.NotEmpty(t, infos)
	assert.Equal(t, ClassifierResNet101, infos[0].Filename)
	for _, m := range infos {
		assert.NotEmpty(t, m.Name)
		assert.NotEmpty(t, m.Filename)
	}
}
