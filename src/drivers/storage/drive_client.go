package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Production Google Drive v3 endpoints. Tests point both at an httptest server.
const (
	DefaultDriveAPIBase    = "https://www.googleapis.com/drive/v3"
	DefaultDriveUploadBase = "https://www.googleapis.com/upload/drive/v3"

	folderMimeType = "application/vnd.google-apps.folder"
)

// DriveClient is a thin client for the Drive v3 REST API, authorized by the
// http.Client it is constructed with (an oauth2 transport in production).
// One client serves exactly one user's Drive.
type DriveClient struct {
	apiBase    string
	uploadBase string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewDriveClient builds a Drive client. Empty base URLs select the production
// endpoints; tests inject their own.
func NewDriveClient(apiBase, uploadBase string, httpClient *http.Client, logger *logrus.Logger) *DriveClient {
	if apiBase == "" {
		apiBase = DefaultDriveAPIBase
	}
	if uploadBase == "" {
		uploadBase = DefaultDriveUploadBase
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &DriveClient{
		apiBase:    apiBase,
		uploadBase: uploadBase,
		httpClient: httpClient,
		logger:     logger,
	}
}

// DriveFile mirrors the fields requested from the files collection.
type DriveFile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	Size         string `json:"size"` // the API serializes int64 as string
	CreatedTime  string `json:"createdTime"`
	ModifiedTime string `json:"modifiedTime"`
}

// SizeBytes parses the stringly-typed size field. Folders and Docs-native
// files have no size; those come back as 0.
func (f DriveFile) SizeBytes() int64 {
	n, err := strconv.ParseInt(f.Size, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ParseDriveTime converts an RFC3339 Drive timestamp, zero time on failure.
func ParseDriveTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

type fileListResponse struct {
	Files []DriveFile `json:"files"`
}

// escapeQueryValue escapes a value embedded in a Drive q expression.
func escapeQueryValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}

func (c *DriveClient) do(ctx context.Context, method, rawURL string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"url":    rawURL,
		"status": resp.StatusCode,
	}).Warn("drive: request failed")

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: drive responded %d", ErrAuthRequired, resp.StatusCode)
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("%w: drive responded %d: %s", ErrProviderUnavailable, resp.StatusCode, string(errBody))
	}
}

func (c *DriveClient) listQuery(ctx context.Context, query, fields string) ([]DriveFile, error) {
	u := fmt.Sprintf("%s/files?q=%s&fields=%s&spaces=drive",
		c.apiBase, url.QueryEscape(query), url.QueryEscape(fields))

	resp, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed fileListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding file list: %v", ErrProviderUnavailable, err)
	}
	return parsed.Files, nil
}

// EnsureFolder resolves the folder with the given name, creating it when
// missing. Resolution is by name lookup every time, never via a cached id,
// so a folder deleted out-of-band is simply recreated.
func (c *DriveClient) EnsureFolder(ctx context.Context, name string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false",
		escapeQueryValue(name), folderMimeType)

	files, err := c.listQuery(ctx, query, "files(id,name)")
	if err != nil {
		return "", err
	}
	if len(files) > 0 {
		return files[0].ID, nil
	}

	payload, err := json.Marshal(map[string]string{
		"name":     name,
		"mimeType": folderMimeType,
	})
	if err != nil {
		return "", fmt.Errorf("encode folder metadata: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.apiBase+"/files?fields=id", bytes.NewReader(payload), "application/json")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("%w: decoding created folder: %v", ErrProviderUnavailable, err)
	}

	c.logger.WithField("folder", name).Info("drive: created folder")
	return created.ID, nil
}

// FindFile looks up a file by exact name within a folder, ErrNotFound when absent.
func (c *DriveClient) FindFile(ctx context.Context, folderID, name string) (*DriveFile, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and trashed=false",
		escapeQueryValue(name), escapeQueryValue(folderID))

	files, err := c.listQuery(ctx, query, "files(id,name,size,createdTime,modifiedTime,mimeType)")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNotFound
	}
	return &files[0], nil
}

// ListFolder returns all non-folder files inside a folder.
func (c *DriveClient) ListFolder(ctx context.Context, folderID string) ([]DriveFile, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", escapeQueryValue(folderID))

	files, err := c.listQuery(ctx, query, "files(id,name,size,createdTime,modifiedTime,mimeType)")
	if err != nil {
		return nil, err
	}

	out := files[:0]
	for _, f := range files {
		if f.MimeType == folderMimeType {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// CreateFile uploads a new file into the folder via a multipart/related
// request carrying metadata and content in one round trip.
func (c *DriveClient) CreateFile(ctx context.Context, folderID, name string, content io.Reader) (string, error) {
	meta, err := json.Marshal(map[string]any{
		"name":    name,
		"parents": []string{folderID},
	})
	if err != nil {
		return "", fmt.Errorf("encode file metadata: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	metaPart, err := writer.CreatePart(metaHeader)
	if err != nil {
		return "", fmt.Errorf("create metadata part: %w", err)
	}
	if _, err := metaPart.Write(meta); err != nil {
		return "", fmt.Errorf("write metadata part: %w", err)
	}

	contentHeader := textproto.MIMEHeader{}
	contentHeader.Set("Content-Type", "application/octet-stream")
	contentPart, err := writer.CreatePart(contentHeader)
	if err != nil {
		return "", fmt.Errorf("create content part: %w", err)
	}
	if _, err := io.Copy(contentPart, content); err != nil {
		return "", fmt.Errorf("write content part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finish multipart body: %w", err)
	}

	u := c.uploadBase + "/files?uploadType=multipart&fields=id"
	contentType := "multipart/related; boundary=" + writer.Boundary()

	resp, err := c.do(ctx, http.MethodPost, u, &body, contentType)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("%w: decoding created file: %v", ErrProviderUnavailable, err)
	}
	return created.ID, nil
}

// UpdateFile replaces an existing file's content in place, keeping its id.
func (c *DriveClient) UpdateFile(ctx context.Context, fileID string, content io.Reader) error {
	u := fmt.Sprintf("%s/files/%s?uploadType=media", c.uploadBase, url.PathEscape(fileID))

	resp, err := c.do(ctx, http.MethodPatch, u, content, "application/octet-stream")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Download streams the file's content. The caller closes the reader.
func (c *DriveClient) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/files/%s?alt=media", c.apiBase, url.PathEscape(fileID))

	resp, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Delete removes a file permanently.
func (c *DriveClient) Delete(ctx context.Context, fileID string) error {
	u := fmt.Sprintf("%s/files/%s", c.apiBase, url.PathEscape(fileID))

	resp, err := c.do(ctx, http.MethodDelete, u, nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
