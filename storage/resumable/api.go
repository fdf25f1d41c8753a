package resumable

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	headerTusResumable   = "Tus-Resumable"
	headerUploadLength   = "Upload-Length"
	headerUploadMetadata = "Upload-Metadata"
	headerUploadOffset   = "Upload-Offset"
	headerLocation       = "Location"

	offsetContentType = "application/offset+octet-stream"
	resumablePath     = "/upload/resumable"

	maxErrorBodySize = 64 * 1024
)

type chunkResponse struct {
	StatusCode int
	Body       string
	// Offset is the Upload-Offset echoed by the server, -1 if absent or invalid.
	Offset int64
}

type apiClient struct {
	httpClient Doer
	headers    map[string]string
	logger     log.Logger
}

func newAPIClient(httpClient Doer, headers map[string]string, logger log.Logger) apiClient {
	return apiClient{
		httpClient: httpClient,
		headers:    headers,
		logger:     logger,
	}
}

// createSession opens a new upload and returns its absolute location.
func (c apiClient) createSession(ctx context.Context, endpoint string, size int64, metadata string) (string, error) {
	tusURL := strings.TrimSuffix(endpoint, "/") + resumablePath

	req, err := c.newRequest(ctx, http.MethodPost, tusURL, nil)
	if err != nil {
		return "", &SessionCreationError{Err: err}
	}
	req.Header.Set(headerUploadLength, strconv.FormatInt(size, 10))
	req.Header.Set(headerUploadMetadata, metadata)
	c.dumpRequest("Create session", req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SessionCreationError{Err: &NetworkError{Method: req.Method, URL: tusURL, Err: err}}
	}
	defer c.closeBody(resp.Body)
	c.dumpResponse("Create session", resp)

	if resp.StatusCode != http.StatusCreated {
		return "", &SessionCreationError{StatusCode: resp.StatusCode, Body: c.readBody(resp.Body)}
	}

	location := resp.Header.Get(headerLocation)
	if location == "" {
		return "", &SessionCreationError{StatusCode: resp.StatusCode, Err: ErrMissingLocation}
	}

	resolved, err := resolveLocation(tusURL, location)
	if err != nil {
		return "", &SessionCreationError{StatusCode: resp.StatusCode, Err: err}
	}
	return resolved, nil
}

// patchChunk sends one window. Transport failures are returned as *NetworkError,
// every answered request is returned as a chunkResponse regardless of its status.
func (c apiClient) patchChunk(ctx context.Context, location string, offset int64, data []byte) (chunkResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPatch, location, data)
	if err != nil {
		return chunkResponse{}, err
	}
	req.Header.Set(headerUploadOffset, strconv.FormatInt(offset, 10))
	req.Header.Set("Content-Type", offsetContentType)
	req.ContentLength = int64(len(data))
	c.dumpRequest("Chunk", req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chunkResponse{}, &NetworkError{Method: req.Method, URL: location, Err: err}
	}
	defer c.closeBody(resp.Body)
	c.dumpResponse("Chunk", resp)

	result := chunkResponse{
		StatusCode: resp.StatusCode,
		Offset:     parseOffset(resp.Header.Get(headerUploadOffset)),
	}
	if resp.StatusCode != http.StatusNoContent {
		result.Body = c.readBody(resp.Body)
	}
	return result, nil
}

// queryOffset asks the server for the authoritative offset of the upload.
// A missing or unparsable Upload-Offset header yields -1.
func (c apiClient) queryOffset(ctx context.Context, location string) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodHead, location, nil)
	if err != nil {
		return -1, err
	}
	c.dumpRequest("Offset query", req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return -1, &NetworkError{Method: req.Method, URL: location, Err: err}
	}
	defer c.closeBody(resp.Body)
	c.dumpResponse("Offset query", resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warnf("Offset query answered with HTTP %d", resp.StatusCode)
		return -1, nil
	}
	return parseOffset(resp.Header.Get(headerUploadOffset)), nil
}

func (c apiClient) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(headerTusResumable, ProtocolVersion)
	return req, nil
}

func (c apiClient) readBody(body io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	if err != nil {
		c.logger.Warnf("read response body: %s", err)
	}
	return string(b)
}

func (c apiClient) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Warnf("close response body: %s", err)
	}
}

func (c apiClient) dumpRequest(name string, req *http.Request) {
	dump, err := httputil.DumpRequest(req, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
		return
	}
	c.logger.Debugf("%s request dump: %s", name, string(dump))
}

func (c apiClient) dumpResponse(name string, resp *http.Response) {
	dump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
		return
	}
	c.logger.Debugf("%s response dump: %s", name, string(dump))
}

// resolveLocation turns the Location of a created session into an absolute URL.
// Relative locations are resolved by their last path segment against the
// resumable upload endpoint, keeping their query.
func resolveLocation(tusURL, location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse location %q: %w", location, err)
	}
	if u.IsAbs() {
		return location, nil
	}

	id := path.Base(strings.TrimSuffix(u.Path, "/"))
	if id == "." || id == "/" || id == "" {
		return "", fmt.Errorf("location %q has no upload id", location)
	}
	resolved := tusURL + "/" + id
	if u.RawQuery != "" {
		resolved += "?" + u.RawQuery
	}
	return resolved, nil
}

func parseOffset(value string) int64 {
	offset, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || offset < 0 {
		return -1
	}
	return offset
}
