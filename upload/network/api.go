package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-multipart/upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
)

const maxKeyLength = 512

// Upload identifier fields of the multipart upload API.
const (
	APICacheKeyKey = "cache_key"
	APIUploadIDKey = "id"
)

const (
	apiMinPartSize     = 5 * 1024 * 1024
	apiMaxPartSize     = 512 * 1024 * 1024
	apiMaxParts        = 1000
	apiDefaultPartSize = 16 * 1024 * 1024
)

type prepareUploadRequest struct {
	CacheKey           string            `json:"cache_key"`
	ArchiveContentType string            `json:"archive_content_type,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

type prepareUploadResponse struct {
	ID string `json:"id"`
}

type acknowledgeRequest struct {
	Successful bool              `json:"successful"`
	Etags      []string          `json:"etags"`
	Parts      []acknowledgePart `json:"parts,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type acknowledgePart struct {
	Number int    `json:"number"`
	ETag   string `json:"etag"`
}

type acknowledgeResponse struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// APIResult is the outcome of an acknowledged upload.
type APIResult struct {
	UploadID string
	Message  string
}

// APIClient uploads parts through the multipart upload endpoints of the cache API.
// Request retries are handled by the retryable HTTP client.
type APIClient struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

// NewAPIClient creates a client for the API at baseURL, authenticating with accessToken.
func NewAPIClient(client *retryablehttp.Client, baseURL string, accessToken string, logger log.Logger) *APIClient {
	return &APIClient{
		httpClient:  client,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: accessToken,
		logger:      logger,
	}
}

// Constraints returns the part limits of the API.
func (c *APIClient) Constraints() upload.Constraints {
	return upload.Constraints{
		MinPartSize:     apiMinPartSize,
		MaxPartSize:     apiMaxPartSize,
		MaxParts:        apiMaxParts,
		DefaultPartSize: apiDefaultPartSize,
		RequiredKeys:    []string{APICacheKeyKey},
		UploadIDKey:     APIUploadIDKey,
	}
}

// Initiate registers a new upload for the cache key of the ID.
func (c *APIClient) Initiate(ctx context.Context, input *upload.InitiateInput) (string, error) {
	cacheKey, _ := input.ID().Get(APICacheKeyKey)
	validatedKey, err := validateKey(cacheKey, c.logger)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(prepareUploadRequest{
		CacheKey:           validatedKey,
		ArchiveContentType: input.ContentType,
		Metadata:           input.Metadata,
	})
	if err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, c.baseURL+"/multipart-upload", body)
	if err != nil {
		return "", err
	}
	req = req.WithContext(ctx)
	c.authorize(req)
	req.Header.Set("Content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return "", unwrapError("prepare upload", resp)
	}

	var response prepareUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("decode prepare upload response: %w", err)
	}
	if response.ID == "" {
		return "", errors.New("prepare upload: no upload id in response")
	}

	return response.ID, nil
}

// UploadPart sends one part and returns its ETag.
func (c *APIClient) UploadPart(ctx context.Context, input *upload.PartInput) (upload.PartMetadata, error) {
	uploadID, _ := input.ID().Get(APIUploadIDKey)
	partURL := fmt.Sprintf("%s/multipart-upload/%s/parts/%d", c.baseURL, url.PathEscape(uploadID), input.Number())

	if _, err := input.Body().Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind part: %w", err)
	}

	req, err := retryablehttp.NewRequest(http.MethodPut, partURL, input.Body())
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	c.authorize(req)
	req.Header.Set("Content-Type", "application/octet-stream")
	for k, v := range input.Header {
		req.Header.Set(k, v)
	}

	// Add Content-Length header manually because retryablehttp doesn't do it automatically
	req.Header.Set("Content-Length", strconv.FormatInt(input.Size(), 10))
	req.ContentLength = input.Size()

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Part request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, unwrapError(fmt.Sprintf("upload part %d", input.Number()), resp)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return nil, fmt.Errorf("upload part %d: no ETag in response", input.Number())
	}

	return upload.PartMetadata{MetadataETag: etag}, nil
}

// Complete acknowledges the upload as successful with its parts.
func (c *APIClient) Complete(ctx context.Context, input *upload.CompleteInput) (APIResult, error) {
	uploadID, _ := input.ID().Get(APIUploadIDKey)

	parts := input.Parts()
	request := acknowledgeRequest{
		Successful: true,
		Etags:      make([]string, 0, len(parts)),
		Parts:      make([]acknowledgePart, 0, len(parts)),
		Metadata:   input.Metadata,
	}
	for _, p := range parts {
		request.Etags = append(request.Etags, p.Metadata[MetadataETag])
		request.Parts = append(request.Parts, acknowledgePart{Number: p.Number, ETag: p.Metadata[MetadataETag]})
	}

	response, err := c.acknowledge(ctx, uploadID, request)
	if err != nil {
		return APIResult{}, err
	}
	logResponseMessage(response, c.logger)

	return APIResult{UploadID: uploadID, Message: response.Message}, nil
}

// Abort acknowledges the upload as failed, so the server drops its parts.
func (c *APIClient) Abort(ctx context.Context, id upload.ID) error {
	uploadID, _ := id.Get(APIUploadIDKey)

	response, err := c.acknowledge(ctx, uploadID, acknowledgeRequest{Successful: false, Etags: []string{}})
	if err != nil {
		return err
	}
	logResponseMessage(response, c.logger)
	return nil
}

func (c *APIClient) acknowledge(ctx context.Context, uploadID string, request acknowledgeRequest) (acknowledgeResponse, error) {
	ackURL := fmt.Sprintf("%s/multipart-upload/%s/acknowledge", c.baseURL, url.PathEscape(uploadID))

	body, err := json.Marshal(request)
	if err != nil {
		return acknowledgeResponse{}, err
	}

	req, err := retryablehttp.NewRequest(http.MethodPatch, ackURL, body)
	if err != nil {
		return acknowledgeResponse{}, err
	}
	req = req.WithContext(ctx)
	c.authorize(req)
	req.Header.Set("Content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return acknowledgeResponse{}, err
	}
	defer c.closeBody(resp.Body)

	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("Acknowledge response dump: %s", string(dump))

	if resp.StatusCode != http.StatusOK {
		return acknowledgeResponse{}, unwrapError("acknowledge upload", resp)
	}

	var response acknowledgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return acknowledgeResponse{}, fmt.Errorf("decode acknowledge response: %w", err)
	}
	return response, nil
}

func (c *APIClient) authorize(req *retryablehttp.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
}

func (c *APIClient) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf("%s", err)
	}
}

func validateKey(key string, logger log.Logger) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, ",") {
		return "", fmt.Errorf("commas are not allowed in key")
	}

	if len(key) > maxKeyLength {
		logger.Warnf("Key is too long, truncating it to the first %d characters", maxKeyLength)
		return key[:maxKeyLength], nil
	}
	return key, nil
}

func logResponseMessage(response acknowledgeResponse, logger log.Logger) {
	if response.Message == "" || response.Severity == "" {
		return
	}

	var loggerFn func(format string, v ...interface{})
	switch response.Severity {
	case "debug":
		loggerFn = logger.Debugf
	case "info":
		loggerFn = logger.Infof
	case "warning":
		loggerFn = logger.Warnf
	case "error":
		loggerFn = logger.Errorf
	default:
		loggerFn = logger.Printf
	}

	loggerFn("\n%s\n", response.Message)
}
