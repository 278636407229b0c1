package cmd

import (
	"bytes"
	"sync"
	"testing"

	"github.com/MeKo-Tech/leafcheck/internal/models"
	"github.com/MeKo-Tech/leafcheck/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// cliResult holds what one command run wrote.
type cliResult struct {
	stdout string
	stderr string
	err    error
}

// isolate moves the test into an empty working directory with an empty
// models directory, so no config file or label file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv(models.EnvModelsDir, t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return dir
}

// executeCommand runs the root command with args and resets all global
// command state afterwards.
func executeCommand(t *testing.T, args ...string) cliResult {
	t.Helper()
	t.Cleanup(resetCommandState)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)

	err := rootCmd.ExecuteContext(t.Context())
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func resetCommandState() {
	resetFlags(rootCmd)
	viper.Reset()
	bindPersistentFlags()
	globalConfig = nil
	configLoader = nil
	cfgFile = ""
	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// writeLeafJPEG writes a synthetic leaf photo into dir.
func writeLeafJPEG(t *testing.T, dir, name string) string {
	t.Helper()
	return testutil.WriteFile(t, dir, name,
		testutil.EncodeJPEG(t, testutil.GenerateLeafImage(testutil.DefaultLeafImageConfig()), 90))
}

func writeLeafPNG(t *testing.T, dir, name string) string {
	t.Helper()
	return testutil.WriteFile(t, dir, name,
		testutil.EncodePNG(t, testutil.GenerateLeafImage(testutil.DefaultLeafImageConfig())))
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
