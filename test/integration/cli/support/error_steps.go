package support

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"
)

// aFileWithContent writes raw bytes below the scenario directory.
func (testCtx *TestContext) aFileWithContent(name, content string) error {
	path := testCtx.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	testCtx.TrackFile(name)
	return nil
}

func (testCtx *TestContext) aCorruptImage(name string) error {
	return testCtx.aFileWithContent(name, "\xff\xd8\xff\xe0 definitely not a jpeg")
}

func (testCtx *TestContext) anEmptyFile(name string) error {
	return testCtx.aFileWithContent(name, "")
}

func (testCtx *TestContext) aLabelsFileWithClasses(name string, table *godog.Table) error {
	var lines []string
	for _, row := range table.Rows {
		lines = append(lines, row.Cells[0].Value)
	}
	return testCtx.aFileWithContent(name, strings.Join(lines, "\n")+"\n")
}

func (testCtx *TestContext) theErrorShouldSuggestAvailableCommands() error {
	if err := testCtx.theCommandShouldFail(); err != nil {
		return err
	}
	if !strings.Contains(testCtx.LastOutput, "unknown command") {
		return fmt.Errorf("expected an unknown command error\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theErrorShouldMentionUnknownFlag() error {
	return testCtx.theErrorShouldMention("unknown flag")
}

func (testCtx *TestContext) theErrorShouldMentionFileNotFound() error {
	return testCtx.theErrorShouldMention("no such file")
}

// RegisterErrorSteps registers steps for broken inputs and error output.
func (testCtx *TestContext) RegisterErrorSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a corrupt image "([^"]*)"$`, testCtx.aCorruptImage)
	sc.Step(`^an empty file "([^"]*)"$`, testCtx.anEmptyFile)
	sc.Step(`^a file "([^"]*)" containing "([^"]*)"$`, testCtx.aFileWithContent)
	sc.Step(`^a labels file "([^"]*)" with classes:$`, testCtx.aLabelsFileWithClasses)
	sc.Step(`^the error should suggest available commands$`, testCtx.theErrorShouldSuggestAvailableCommands)
	sc.Step(`^the error should mention an unknown flag$`, testCtx.theErrorShouldMentionUnknownFlag)
	sc.Step(`^the error should mention file not found$`, testCtx.theErrorShouldMentionFileNotFound)
}
