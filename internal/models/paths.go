package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Artifact file names.
const (
	// ClassifierResNet101 is the PlantVillage ResNet101 Keras export converted to ONNX.
	ClassifierResNet101 = "plant_disease_resnet101.onnx"
	// LabelsFile lists class labels in model output order.
	LabelsFile = "class_labels.yaml"
	// AdviceFile maps disease names to recommended actions.
	AdviceFile = "advice.yaml"
)

// Artifact categories for the organized directory structure.
const (
	TypeClassification = "classification"
	TypeLabels         = "labels"
)

// Default models directory.
const DefaultModelsDir = "models"

// EnvModelsDir overrides the models directory.
const EnvModelsDir = "LEAFCHECK_MODELS_DIR"

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.New("could not find project root (go.mod not found)")
}

// ModelInfo contains metadata about a shipped artifact.
type ModelInfo struct {
	Name        string
	Type        string
	Description string
	Filename    string
}

// GetModelsDir returns the models directory.
// Priority: 1. explicit modelsDir, 2. $LEAFCHECK_MODELS_DIR, 3. project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}

	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}

	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}

	return DefaultModelsDir
}

// ResolveModelPath resolves an artifact to models/<type>/<file>, falling back
// to the flat layout models/<file> when the organized path does not exist.
func ResolveModelPath(modelsDir, artifactType, filename string) string {
	baseDir := GetModelsDir(modelsDir)

	if artifactType != "" {
		organized := filepath.Join(baseDir, artifactType, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}

	return filepath.Join(baseDir, filename)
}

// GetClassifierModelPath returns the path of the classifier model. An empty
// filename selects the default ResNet101 artifact.
func GetClassifierModelPath(modelsDir, filename string) string {
	if filename == "" {
		filename = ClassifierResNet101
	}
	return ResolveModelPath(modelsDir, TypeClassification, filename)
}

// GetLabelsPath returns the labels file path if one exists, or "" so the
// embedded catalog is used.
func GetLabelsPath(modelsDir string) string {
	return existing(ResolveModelPath(modelsDir, TypeLabels, LabelsFile))
}

// GetAdvicePath returns the advice file path if one exists, or "" so the
// built-in table is used.
func GetAdvicePath(modelsDir string) string {
	return existing(ResolveModelPath(modelsDir, TypeLabels, AdviceFile))
}

func existing(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

// ListAvailableModels returns information about the known artifacts.
func ListAvailableModels() []ModelInfo {
	return []ModelInfo{
		{
			Name:        "resnet101-plantvillage",
			Type:        TypeClassification,
			Description: "ResNet101 fine-tuned on PlantVillage (38 classes, 224x224 NHWC)",
			Filename:    ClassifierResNet101,
		},
		{
			Name:        "class-labels",
			Type:        TypeLabels,
			Description: "Class labels in model output order",
			Filename:    LabelsFile,
		},
		{
			Name:        "advice",
			Type:        TypeLabels,
			Description: "Recommended actions keyed by disease name",
			Filename:    AdviceFile,
		},
	}
}
