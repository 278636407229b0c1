package support

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cucumber/godog"
)

const httpTimeout = 30 * time.Second

// makeHTTPRequest sends a request to the current server and keeps status,
// body and headers for the assertion steps.
func (testCtx *TestContext) makeHTTPRequest(method, endpoint, contentType string, body io.Reader) error {
	req, err := http.NewRequest(method, testCtx.GetServerURL()+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Origin", "http://example.test")

	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Do(req)
	if err != nil {
		testCtx.LastError = err
		testCtx.LastExitCode = 1
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	testCtx.LastOutput = string(data)
	testCtx.LastStdout = string(data)
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(data)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) > 0 {
			testCtx.LastHTTPHeaders[key] = values[0]
		}
	}
	testCtx.LastError = nil
	testCtx.LastExitCode = 0
	if resp.StatusCode >= 400 {
		testCtx.LastExitCode = 1
		testCtx.LastError = fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func (testCtx *TestContext) iGET(endpoint string) error {
	return testCtx.makeHTTPRequest(http.MethodGet, endpoint, "", nil)
}

func (testCtx *TestContext) iSendAnOPTIONSRequestTo(endpoint string) error {
	return testCtx.makeHTTPRequest(http.MethodOptions, endpoint, "", nil)
}

func (testCtx *TestContext) iPOSTTheJSONBodyTo(endpoint string, body *godog.DocString) error {
	return testCtx.makeHTTPRequest(http.MethodPost, endpoint, "application/json", strings.NewReader(body.Content))
}

func (testCtx *TestContext) readPhoto(name string) ([]byte, error) {
	data, err := os.ReadFile(testCtx.path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read photo %s: %w", name, err)
	}
	return data, nil
}

// iPOSTThePhotoAsBase64To sends {"imageBase64": ...}, the body of
// /predict and /backend/predict.
func (testCtx *TestContext) iPOSTThePhotoAsBase64To(name, endpoint string) error {
	data, err := testCtx.readPhoto(name)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]any{
		"imageBase64": base64.StdEncoding.EncodeToString(data),
		"imageType":   strings.TrimPrefix(filepath.Ext(name), "."),
	})
	if err != nil {
		return err
	}
	return testCtx.makeHTTPRequest(http.MethodPost, endpoint, "application/json", bytes.NewReader(body))
}

// iUploadThePhotoTo sends the photo as the multipart "file" field.
func (testCtx *TestContext) iUploadThePhotoTo(name, endpoint string) error {
	data, err := testCtx.readPhoto(name)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to copy file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return testCtx.makeHTTPRequest(http.MethodPost, endpoint, writer.FormDataContentType(), &buf)
}

// iPOSTABatchOfPhotosTo sends a comma separated list of photos to the
// batch route. A name that does not exist is sent as undecodable data.
func (testCtx *TestContext) iPOSTABatchOfPhotosTo(names, endpoint string) error {
	type image struct {
		Name string `json:"name"`
		Data string `json:"imageBase64"`
	}
	var images []image
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		data, err := os.ReadFile(testCtx.path(name))
		encoded := "bm90IGFuIGltYWdl" // "not an image"
		if err == nil {
			encoded = base64.StdEncoding.EncodeToString(data)
		}
		images = append(images, image{Name: name, Data: encoded})
	}
	body, err := json.Marshal(map[string]any{"images": images})
	if err != nil {
		return err
	}
	return testCtx.makeHTTPRequest(http.MethodPost, endpoint, "application/json", bytes.NewReader(body))
}

func (testCtx *TestContext) iPOSTThePhotoAsBase64ToTimes(name, endpoint string, n int) error {
	for range n {
		if err := testCtx.iPOSTThePhotoAsBase64To(name, endpoint); err != nil {
			return err
		}
	}
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(expectedStatus int) error {
	if testCtx.LastHTTPStatusCode != expectedStatus {
		return fmt.Errorf("expected status %d, got %d\nBody: %s",
			expectedStatus, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) responseJSON() (any, error) {
	var data any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &data); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w\nBody: %s", err, testCtx.LastHTTPResponse)
	}
	return data, nil
}

func (testCtx *TestContext) theResponseShouldBeValidJSON() error {
	_, err := testCtx.responseJSON()
	return err
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain %q\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseJSONShouldContain(field string) error {
	data, err := testCtx.responseJSON()
	if err != nil {
		return err
	}
	_, err = lookupJSON(data, field)
	return err
}

func (testCtx *TestContext) theResponseJSONFieldShouldBe(field, expected string) error {
	data, err := testCtx.responseJSON()
	if err != nil {
		return err
	}
	return expectJSONValue(data, field, expected)
}

func (testCtx *TestContext) theResponseJSONFieldShouldHaveItems(field string, n int) error {
	data, err := testCtx.responseJSON()
	if err != nil {
		return err
	}
	return expectJSONLength(data, field, n)
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, expected string) error {
	got, ok := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]
	if !ok {
		return fmt.Errorf("response has no %s header", name)
	}
	if got != expected {
		return fmt.Errorf("header %s is %q, expected %q", name, got, expected)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBeSet(name string) error {
	if testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)] == "" {
		return fmt.Errorf("response has no %s header", name)
	}
	return nil
}

func (testCtx *TestContext) iStartTheServerWith(command string) error {
	return testCtx.StartServer(command)
}

func (testCtx *TestContext) theHealthEndpointShouldRespondWithStatus(status int) error {
	if err := testCtx.iGET("/health"); err != nil {
		return err
	}
	if testCtx.LastError != nil && testCtx.LastHTTPStatusCode == 0 {
		return fmt.Errorf("health check failed: %w", testCtx.LastError)
	}
	return testCtx.theResponseStatusShouldBe(status)
}

func (testCtx *TestContext) iSendSIGTERMToTheServer() error {
	if testCtx.ServerProcess == nil {
		return fmt.Errorf("no server process running")
	}
	if err := testCtx.ServerProcess.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal server: %w", err)
	}
	return nil
}

// theServerShouldShutDownGracefully waits for the child to exit cleanly.
func (testCtx *TestContext) theServerShouldShutDownGracefully() error {
	if testCtx.ServerCmd == nil {
		return fmt.Errorf("no server process running")
	}
	done := make(chan error, 1)
	go func() { done <- testCtx.ServerCmd.Wait() }()

	select {
	case err := <-done:
		testCtx.ServerProcess = nil
		testCtx.ServerCmd = nil
		if err != nil {
			return fmt.Errorf("server exited with error: %w\nOutput: %s", err, testCtx.ServerOutput.String())
		}
	case <-time.After(serverReadyTimeout):
		return fmt.Errorf("server did not stop within %v", serverReadyTimeout)
	}
	if !strings.Contains(testCtx.ServerOutput.String(), "Graceful shutdown completed") {
		return fmt.Errorf("server did not log a graceful shutdown\nOutput: %s", testCtx.ServerOutput.String())
	}
	return nil
}

// RegisterServerSteps registers server lifecycle, request and response steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a running leafcheck server$`, func() error {
		return testCtx.createTestHTTPServer(defaultServerOptions())
	})
	sc.Step(`^a leafcheck server whose model is still loading$`, func() error {
		opts := defaultServerOptions()
		opts.loadModel = false
		return testCtx.createTestHTTPServer(opts)
	})
	sc.Step(`^a leafcheck server without prediction history$`, func() error {
		opts := defaultServerOptions()
		opts.history = false
		return testCtx.createTestHTTPServer(opts)
	})
	sc.Step(`^a leafcheck server limited to (\d+) requests per minute$`, func(n int) error {
		opts := defaultServerOptions()
		opts.rateLimit.Enabled = true
		opts.rateLimit.RequestsPerMinute = n
		return testCtx.createTestHTTPServer(opts)
	})
	sc.Step(`^a leafcheck server accepting at most (\d+) images per batch$`, func(n int) error {
		opts := defaultServerOptions()
		opts.maxBatch = n
		return testCtx.createTestHTTPServer(opts)
	})

	sc.Step(`^I start the server with "([^"]*)"$`, testCtx.iStartTheServerWith)
	sc.Step(`^the health endpoint should respond with status (\d+)$`, testCtx.theHealthEndpointShouldRespondWithStatus)
	sc.Step(`^I send SIGTERM to the server$`, testCtx.iSendSIGTERMToTheServer)
	sc.Step(`^the server should shut down gracefully$`, testCtx.theServerShouldShutDownGracefully)

	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I send an OPTIONS request to "([^"]*)"$`, testCtx.iSendAnOPTIONSRequestTo)
	sc.Step(`^I POST the JSON body to "([^"]*)":$`, testCtx.iPOSTTheJSONBodyTo)
	sc.Step(`^I POST the photo "([^"]*)" as base64 to "([^"]*)"$`, testCtx.iPOSTThePhotoAsBase64To)
	sc.Step(`^I POST the photo "([^"]*)" as base64 to "([^"]*)" (\d+) times$`, testCtx.iPOSTThePhotoAsBase64ToTimes)
	sc.Step(`^I upload the photo "([^"]*)" to "([^"]*)"$`, testCtx.iUploadThePhotoTo)
	sc.Step(`^I POST a batch of photos "([^"]*)" to "([^"]*)"$`, testCtx.iPOSTABatchOfPhotosTo)

	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should be valid JSON$`, testCtx.theResponseShouldBeValidJSON)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response JSON should contain "([^"]*)"$`, testCtx.theResponseJSONShouldContain)
	sc.Step(`^the response JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
	sc.Step(`^the response JSON field "([^"]*)" should have (\d+) items?$`, testCtx.theResponseJSONFieldShouldHaveItems)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response header "([^"]*)" should be set$`, testCtx.theResponseHeaderShouldBeSet)
}
