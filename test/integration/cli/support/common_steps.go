package support

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/spf13/cast"
)

const commandTimeout = 30 * time.Second

// iRunCommand runs a leafcheck command in the scenario directory. Stdout
// is kept apart so JSON output can be parsed without the stderr logs.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substituteCommandVariables(command)

	testCtx.LastCommand = command
	testCtx.LastStartTime = time.Now()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}
	if parts[0] == "leafcheck" {
		parts[0] = testCtx.BinaryPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...) //nolint:gosec // G204: commands come from feature files
	cmd.Dir = testCtx.TempDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	testCtx.LastStdout = stdout.String()
	testCtx.LastOutput = stdout.String() + stderr.String()
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(testCtx.LastStartTime)

	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	} else {
		testCtx.LastExitCode = 0
	}
	return nil
}

// substituteCommandVariables replaces {tmp} with the scenario directory.
func (testCtx *TestContext) substituteCommandVariables(command string) string {
	return strings.ReplaceAll(command, "{tmp}", testCtx.TempDir)
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldExitWith(code int) error {
	if testCtx.LastExitCode != code {
		return fmt.Errorf("expected exit code %d, got %d\nOutput: %s", code, testCtx.LastExitCode, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

// parseJSON decodes stdout of the last command.
func (testCtx *TestContext) parseJSON() (any, error) {
	out := strings.TrimSpace(testCtx.LastStdout)
	if out == "" {
		return nil, fmt.Errorf("no JSON found in output: %s", testCtx.LastOutput)
	}
	var data any
	if err := json.Unmarshal([]byte(out), &data); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w\nOutput: %s", err, out)
	}
	return data, nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	_, err := testCtx.parseJSON()
	return err
}

func (testCtx *TestContext) theJSONShouldContain(field string) error {
	data, err := testCtx.parseJSON()
	if err != nil {
		return err
	}
	_, err = lookupJSON(data, field)
	return err
}

func (testCtx *TestContext) theJSONFieldShouldBe(field, expected string) error {
	data, err := testCtx.parseJSON()
	if err != nil {
		return err
	}
	return expectJSONValue(data, field, expected)
}

func (testCtx *TestContext) theJSONFieldShouldHaveItems(field string, n int) error {
	data, err := testCtx.parseJSON()
	if err != nil {
		return err
	}
	return expectJSONLength(data, field, n)
}

// lookupJSON walks a dotted path. Numeric segments index arrays and an
// empty path is the document itself.
func lookupJSON(data any, path string) (any, error) {
	if path == "" || path == "." {
		return data, nil
	}
	current := data
	parts := strings.Split(path, ".")
	for i, part := range parts {
		switch node := current.(type) {
		case map[string]any:
			val, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field '%s' not found in JSON", strings.Join(parts[:i+1], "."))
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("index '%s' out of range in JSON array of %d", strings.Join(parts[:i+1], "."), len(node))
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("cannot navigate into non-container field '%s'", strings.Join(parts[:i], "."))
		}
	}
	return current, nil
}

// expectJSONValue compares numbers numerically and everything else as text.
func expectJSONValue(data any, field, expected string) error {
	val, err := lookupJSON(data, field)
	if err != nil {
		return err
	}
	if n, ok := val.(float64); ok {
		want, err := cast.ToFloat64E(expected)
		if err != nil {
			return fmt.Errorf("field '%s' is the number %v, expected %q", field, n, expected)
		}
		if n != want {
			return fmt.Errorf("field '%s' is %v, expected %v", field, n, want)
		}
		return nil
	}
	if got := cast.ToString(val); got != expected {
		return fmt.Errorf("field '%s' is %q, expected %q", field, got, expected)
	}
	return nil
}

func expectJSONLength(data any, field string, n int) error {
	val, err := lookupJSON(data, field)
	if err != nil {
		return err
	}
	arr, ok := val.([]any)
	if !ok {
		return fmt.Errorf("field '%s' is not an array", field)
	}
	if len(arr) != n {
		return fmt.Errorf("field '%s' has %d items, expected %d", field, len(arr), n)
	}
	return nil
}

// theOutputShouldBeValidCSV parses stdout and checks the header row.
func (testCtx *TestContext) theOutputShouldBeValidCSV() error {
	records, err := csv.NewReader(strings.NewReader(testCtx.LastStdout)).ReadAll()
	if err != nil {
		return fmt.Errorf("output is not valid CSV: %w\nOutput: %s", err, testCtx.LastStdout)
	}
	if len(records) < 2 {
		return fmt.Errorf("CSV has %d rows, expected a header and data", len(records))
	}
	if records[0][0] != "file" {
		return fmt.Errorf("unexpected CSV header %v", records[0])
	}
	return nil
}

func (testCtx *TestContext) theCSVShouldHaveDataRows(n int) error {
	records, err := csv.NewReader(strings.NewReader(testCtx.LastStdout)).ReadAll()
	if err != nil {
		return fmt.Errorf("output is not valid CSV: %w", err)
	}
	if got := len(records) - 1; got != n {
		return fmt.Errorf("CSV has %d data rows, expected %d", got, n)
	}
	return nil
}

// theErrorShouldMention matches case-insensitively on the combined output.
func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastError == nil && testCtx.LastExitCode == 0 {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}

	fullErrorText := testCtx.LastOutput
	if testCtx.LastError != nil {
		fullErrorText += " " + testCtx.LastError.Error()
	}
	if !strings.Contains(strings.ToLower(fullErrorText), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual error: %s", errorText, fullErrorText)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(filename string) error {
	if _, err := os.Stat(testCtx.path(filename)); err != nil {
		return fmt.Errorf("file %s does not exist: %w", filename, err)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContain(filename, expectedContent string) error {
	content, err := os.ReadFile(testCtx.path(filename))
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	if !strings.Contains(string(content), expectedContent) {
		return fmt.Errorf("file %s does not contain '%s'\nActual content: %s", filename, expectedContent, string(content))
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContainValidJSON(filename string) error {
	content, err := os.ReadFile(testCtx.path(filename))
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	if !json.Valid(content) {
		return fmt.Errorf("file %s is not valid JSON: %s", filename, string(content))
	}
	return nil
}

func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	testCtx.AddEnvVar(name, testCtx.substituteCommandVariables(value))
	return nil
}

func (testCtx *TestContext) theCommandShouldCompleteWithin(seconds int) error {
	if limit := time.Duration(seconds) * time.Second; testCtx.LastDuration > limit {
		return fmt.Errorf("command took %v, expected at most %v", testCtx.LastDuration, limit)
	}
	return nil
}

func (testCtx *TestContext) registerCommandSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the command should exit with code (\d+)$`, testCtx.theCommandShouldExitWith)
	sc.Step(`^the command should complete within (\d+) seconds$`, testCtx.theCommandShouldCompleteWithin)
}

func (testCtx *TestContext) registerOutputSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the output should be valid CSV$`, testCtx.theOutputShouldBeValidCSV)
	sc.Step(`^the CSV should have (\d+) data rows?$`, testCtx.theCSVShouldHaveDataRows)
	sc.Step(`^the JSON should contain "([^"]*)"$`, testCtx.theJSONShouldContain)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the JSON field "([^"]*)" should have (\d+) items?$`, testCtx.theJSONFieldShouldHaveItems)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
}

func (testCtx *TestContext) registerFileSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
	sc.Step(`^the file "([^"]*)" should contain valid JSON$`, testCtx.theFileShouldContainValidJSON)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)
}

// RegisterCommonSteps registers command, output and file steps.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	testCtx.registerCommandSteps(sc)
	testCtx.registerOutputSteps(sc)
	testCtx.registerFileSteps(sc)
}
