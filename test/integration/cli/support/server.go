package support

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const serverReadyTimeout = 10 * time.Second

// StartServer starts "leafcheck serve" as a child process. {port} in the
// command is replaced with a free port.
func (testCtx *TestContext) StartServer(command string) error {
	if strings.Contains(command, "{port}") {
		port, err := freePort()
		if err != nil {
			return err
		}
		command = strings.ReplaceAll(command, "{port}", strconv.Itoa(port))
	}
	command = testCtx.substituteCommandVariables(command)
	if err := testCtx.parseServerCommand(command); err != nil {
		return err
	}

	if testCtx.isPortInUse(testCtx.ServerPort) {
		return fmt.Errorf("port %d is already in use", testCtx.ServerPort)
	}

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}
	if parts[0] == "leafcheck" {
		parts[0] = testCtx.BinaryPath
	}

	cmd := exec.Command(parts[0], parts[1:]...) //nolint:gosec // G204: commands come from feature files
	cmd.Dir = testCtx.TempDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)
	testCtx.ServerOutput.Reset()
	cmd.Stdout = &testCtx.ServerOutput
	cmd.Stderr = &testCtx.ServerOutput

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	testCtx.ServerCmd = cmd
	testCtx.ServerProcess = cmd.Process

	if err := testCtx.waitForServerReady(); err != nil {
		if stopErr := testCtx.StopServerProcess(); stopErr != nil {
			return fmt.Errorf("server failed to start and also failed to stop: %w; stop error: %w", err, stopErr)
		}
		return fmt.Errorf("server failed to start: %w\nOutput: %s", err, testCtx.ServerOutput.String())
	}
	return nil
}

// StopServerProcess sends SIGTERM and waits for the process to exit.
// The output buffer is complete once it returns.
func (testCtx *TestContext) StopServerProcess() error {
	if testCtx.ServerProcess == nil {
		return nil
	}

	if err := testCtx.ServerProcess.Signal(syscall.SIGTERM); err != nil {
		if killErr := testCtx.ServerProcess.Kill(); killErr != nil {
			return fmt.Errorf("failed to kill server process: %w", killErr)
		}
	}

	var err error
	if testCtx.ServerCmd != nil {
		err = testCtx.ServerCmd.Wait()
	} else {
		_, err = testCtx.ServerProcess.Wait()
	}
	testCtx.ServerProcess = nil
	testCtx.ServerCmd = nil
	return err
}

// parseServerCommand extracts host and port from the serve flags.
func (testCtx *TestContext) parseServerCommand(command string) error {
	parts := strings.Fields(command)

	testCtx.ServerPort = 8080
	testCtx.ServerHost = "localhost"

	for i, part := range parts {
		switch {
		case part == "--port" && i+1 < len(parts):
			port, err := strconv.Atoi(parts[i+1])
			if err != nil {
				return fmt.Errorf("invalid port: %s", parts[i+1])
			}
			testCtx.ServerPort = port
		case strings.HasPrefix(part, "--port="):
			port, err := strconv.Atoi(strings.TrimPrefix(part, "--port="))
			if err != nil {
				return fmt.Errorf("invalid port: %s", part)
			}
			testCtx.ServerPort = port
		case part == "--host" && i+1 < len(parts):
			testCtx.ServerHost = parts[i+1]
		case strings.HasPrefix(part, "--host="):
			testCtx.ServerHost = strings.TrimPrefix(part, "--host=")
		}
	}
	return nil
}

func (testCtx *TestContext) isPortInUse(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(testCtx.ServerHost, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// waitForServerReady polls /health until the model has loaded.
func (testCtx *TestContext) waitForServerReady() error {
	deadline := time.Now().Add(serverReadyTimeout)
	for time.Now().Before(deadline) {
		if testCtx.isServerHealthy() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errors.New("server did not become ready within timeout")
}

func (testCtx *TestContext) isServerHealthy() bool {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(testCtx.GetServerURL() + "/health")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// GetServerURL returns the base URL of the in-process or child server.
func (testCtx *TestContext) GetServerURL() string {
	if testCtx.HTTPTestServer != nil && testCtx.HTTPTestServer.Server != nil {
		return testCtx.HTTPTestServer.Server.URL
	}
	return "http://" + net.JoinHostPort(testCtx.ServerHost, strconv.Itoa(testCtx.ServerPort))
}

// freePort asks the kernel for an unused TCP port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to find a free port: %w", err)
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}
