// Package remote is a typed client for the image-processing backend.
//
// Each method is one HTTP round trip. The client holds no per-image state,
// never retries and never coalesces calls: repeating a call issues a fresh
// request. Responses are decoded into a Result immediately, so callers only
// ever see a typed value or a *remote.Error.
//
// # Operations
//
//   - Upload: multipart POST of one file, returns the server-assigned image ID
//   - Compress, Watermark, BasicOperation: server-side transforms, each
//     returning an opaque reference to the new variant
//   - FetchVariant: base64 image bytes for preview
//   - Download: streaming binary blob
//   - DeleteImage, Status
//
// # Errors
//
// Failures wrap an operation class (ErrUpload, ErrTransform, ErrFetch) and a
// cause (ErrNetwork, ErrRejected, ErrNotFound, ErrMalformed):
//
//	ref, err := client.Compress(ctx, id, imagepress.FormatWebP, 0.5)
//	if errors.Is(err, remote.ErrNetwork) {
//		// transport failure, the request may not have reached the backend
//	}
//
// # Usage Example
//
//	client, err := remote.New(remote.Config{BaseURL: "http://localhost:5000/api"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	client.SetLogger(logger)
//
//	up, err := client.UploadFile(ctx, "photos/img1.jpg")
//	if err != nil {
//		log.Fatal(err)
//	}
//	ref, err := client.Compress(ctx, up.ImageID, imagepress.FormatWebP, 0.8)
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/imagepress/imagepress"
)

const (
	opUpload         = "upload"
	opCompress       = "compress"
	opWatermark      = "watermark"
	opBasicOperation = "basic_operation"
	opFetchVariant   = "fetch_variant"
	opDownload       = "download"
	opDelete         = "delete"
	opStatus         = "status"
)

// maxReplyBytes bounds JSON replies. Base64 previews are the largest.
const maxReplyBytes = 64 << 20

// AllowedExtensions are the upload file types the backend accepts.
var AllowedExtensions = map[string]bool{"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true}

// ProgressFunc is called while a download body is read.
type ProgressFunc func(imageID string, read, total int64)

// Config holds client configuration.
type Config struct {
	// BaseURL is the API root, including the /api prefix.
	BaseURL string

	// Timeout bounds each request at the transport level. Zero means no
	// client-side timeout.
	Timeout time.Duration
}

// DefaultConfig returns a configuration for a backend on localhost.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:5000/api",
		Timeout: 60 * time.Second,
	}
}

// Client talks to one backend.
type Client struct {
	base         *url.URL
	http         *http.Client
	logger       *logrus.Logger
	progressFunc ProgressFunc
}

// New creates a client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse backend URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend URL must be http or https, got %q", cfg.BaseURL)
	}
	return &Client{
		base:   u,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logrus.New(),
	}, nil
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.http = hc
}

// SetLogger sets a custom logger for the client.
func (c *Client) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

// SetProgressFunc sets a callback for download progress.
func (c *Client) SetProgressFunc(fn ProgressFunc) {
	c.progressFunc = fn
}

// SuppressLogs disables all log output from the client. The TUI uses this
// so log lines do not tear the display.
func (c *Client) SuppressLogs() {
	c.logger.SetOutput(io.Discard)
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	ImageID     string
	FileName    string
	OriginalRef string
}

// Record returns the initial collection record for the upload.
func (u UploadResult) Record() imagepress.ImageRecord {
	return imagepress.ImageRecord{ImageID: u.ImageID, FileName: u.FileName, OriginalRef: u.OriginalRef}
}

// UploadFile uploads the file at path under its base name.
func (c *Client) UploadFile(ctx context.Context, filePath string) (UploadResult, error) {
	name := filepath.Base(filePath)
	f, err := os.Open(filePath)
	if err != nil {
		e := newError(opUpload, "", ErrRejected, fmt.Errorf("failed to open file: %w", err))
		e.FileName = name
		return UploadResult{}, e
	}
	defer f.Close()
	return c.Upload(ctx, name, f)
}

// Upload sends one file as multipart field "file". The extension is checked
// locally against AllowedExtensions first.
func (c *Client) Upload(ctx context.Context, fileName string, body io.Reader) (UploadResult, error) {
	return c.upload(ctx, fileName, body).Unwrap()
}

func (c *Client) upload(ctx context.Context, fileName string, body io.Reader) Result[UploadResult] {
	fail := func(e *Error) Result[UploadResult] {
		e.FileName = fileName
		return Fail[UploadResult](e)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if !AllowedExtensions[ext] {
		return fail(newError(opUpload, "", ErrRejected, imagepress.Invalid(fmt.Sprintf("invalid file type %q", fileName))))
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", fileName)
		if err == nil {
			_, err = io.Copy(part, body)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "upload", nil, pr)
	if err != nil {
		pr.Close()
		return fail(newError(opUpload, "", ErrNetwork, err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadReply
	if e := c.do(req, opUpload, "", &out); e != nil {
		return fail(e)
	}
	if out.ImageID == "" || out.OriginalImageURL == "" {
		return fail(newError(opUpload, "", ErrMalformed, fmt.Errorf("reply is missing image_id or original_image_url")))
	}

	c.logger.WithFields(logrus.Fields{
		"op":        opUpload,
		"file_name": fileName,
		"image_id":  out.ImageID,
	}).Info("image uploaded")

	return Ok(UploadResult{ImageID: out.ImageID, FileName: fileName, OriginalRef: out.OriginalImageURL})
}

// Compress asks the backend to re-encode imageID in format at quality, a
// fraction in (0,1].
func (c *Client) Compress(ctx context.Context, imageID string, format imagepress.Format, quality float64) (string, error) {
	if quality <= 0 || quality > 1 {
		return "", newError(opCompress, imageID, ErrRejected, imagepress.Invalid(fmt.Sprintf("quality must be in (0,1], got %v", quality)))
	}
	var out CompressReply
	res := c.postJSON(ctx, opCompress, imageID, "compress", CompressRequest{
		ImageID:            imageID,
		CompressionFormat:  string(format),
		CompressionQuality: quality,
	}, &out, func() string { return out.CompressedImageURL })
	return res.Unwrap()
}

// Watermark renders cfg onto imageID. The configuration is clamped before it
// is sent.
func (c *Client) Watermark(ctx context.Context, imageID string, cfg imagepress.WatermarkConfig) (string, error) {
	cfg = cfg.Clamped()
	var out WatermarkReply
	res := c.postJSON(ctx, opWatermark, imageID, "watermark", WatermarkRequest{
		ImageID:        imageID,
		WatermarkText:  cfg.Text,
		Position:       PositionCustom,
		Color:          cfg.Color,
		Rotation:       cfg.Rotation,
		Opacity:        cfg.Opacity,
		FontSize:       cfg.FontSize,
		CustomPosition: cfg.Position,
		NaturalSize:    cfg.NaturalSize,
		PreviewSize:    cfg.PreviewSize,
	}, &out, func() string { return out.WatermarkedImageURL })
	return res.Unwrap()
}

// BasicOperation applies ops to imageID.
func (c *Client) BasicOperation(ctx context.Context, imageID string, ops imagepress.OpsSpec) (string, error) {
	var out BasicOperationReply
	res := c.postJSON(ctx, opBasicOperation, imageID, "basic_operation", BasicOperationRequest{
		ImageID:    imageID,
		Operations: ops,
	}, &out, func() string { return out.ModifiedImageURL })
	return res.Unwrap()
}

// postJSON posts body and extracts the variant reference with ref once the
// reply has been decoded into out.
func (c *Client) postJSON(ctx context.Context, op, imageID, endpoint string, body any, out reply, ref func() string) Result[string] {
	logger := c.logger.WithFields(logrus.Fields{"op": op, "image_id": imageID})

	payload, err := json.Marshal(body)
	if err != nil {
		return Fail[string](newError(op, imageID, ErrMalformed, fmt.Errorf("failed to encode request: %w", err)))
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(payload))
	if err != nil {
		return Fail[string](newError(op, imageID, ErrNetwork, err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	if e := c.do(req, op, imageID, out); e != nil {
		logger.WithError(e).Warn("remote call failed")
		return Fail[string](e)
	}
	r := ref()
	if r == "" {
		return Fail[string](newError(op, imageID, ErrMalformed, fmt.Errorf("reply has no variant reference")))
	}
	logger.WithFields(logrus.Fields{
		"ref":         r,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("remote call succeeded")
	return Ok(r)
}

// FetchVariant returns the decoded bytes of one variant, for previews.
func (c *Client) FetchVariant(ctx context.Context, imageID string, kind imagepress.VariantKind) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "image/"+imageID, url.Values{"type": {string(kind)}}, nil)
	if err != nil {
		return nil, newError(opFetchVariant, imageID, ErrNetwork, err)
	}
	var out ImageReply
	if e := c.do(req, opFetchVariant, imageID, &out); e != nil {
		return nil, e
	}
	encoded := out.ImageBase64
	if i := strings.Index(encoded, ";base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len(";base64,"):]
	}
	if encoded == "" {
		return nil, newError(opFetchVariant, imageID, ErrMalformed, fmt.Errorf("reply has no image data"))
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, newError(opFetchVariant, imageID, ErrMalformed, fmt.Errorf("failed to decode image data: %w", err))
	}
	return data, nil
}

// Blob is a streaming download. The caller must close Body.
type Blob struct {
	Body        io.ReadCloser
	Size        int64 // -1 when unknown
	ContentType string
}

// Download streams one variant as a binary blob.
func (c *Client) Download(ctx context.Context, imageID string, kind imagepress.VariantKind) (*Blob, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "download/"+imageID, url.Values{"type": {string(kind)}}, nil)
	if err != nil {
		return nil, newError(opDownload, imageID, ErrNetwork, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newError(opDownload, imageID, ErrNetwork, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, c.statusError(resp, opDownload, imageID)
	}

	body := io.ReadCloser(resp.Body)
	if c.progressFunc != nil {
		body = &progressReader{ReadCloser: resp.Body, imageID: imageID, total: resp.ContentLength, fn: c.progressFunc}
	}
	return &Blob{Body: body, Size: resp.ContentLength, ContentType: resp.Header.Get("Content-Type")}, nil
}

// DeleteImage removes imageID and all its variants on the backend.
func (c *Client) DeleteImage(ctx context.Context, imageID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "delete/"+imageID, nil, nil)
	if err != nil {
		return newError(opDelete, imageID, ErrNetwork, err)
	}
	var out DeleteReply
	if e := c.do(req, opDelete, imageID, &out); e != nil {
		return e
	}
	c.logger.WithFields(logrus.Fields{"op": opDelete, "image_id": imageID}).Info("image deleted")
	return nil
}

// Status is the backend's view of one image.
type Status struct {
	ImageID        string
	State          string // uploaded, compressed or watermarked
	OriginalRef    string
	CompressedRef  string
	WatermarkedRef string
}

// Status reports the processing state of imageID.
func (c *Client) Status(ctx context.Context, imageID string) (Status, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "status/"+imageID, nil, nil)
	if err != nil {
		return Status{}, newError(opStatus, imageID, ErrNetwork, err)
	}
	var out StatusReply
	if e := c.do(req, opStatus, imageID, &out); e != nil {
		return Status{}, e
	}
	if out.Status == "" {
		return Status{}, newError(opStatus, imageID, ErrMalformed, fmt.Errorf("reply has no status"))
	}
	return Status{
		ImageID:        imageID,
		State:          out.Status,
		OriginalRef:    out.OriginalImageURL,
		CompressedRef:  out.CompressedImageURL,
		WatermarkedRef: out.WatermarkedImageURL,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.base
	u.Path = path.Join(c.base.Path, endpoint)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do executes req and decodes the JSON reply into out. Transport errors,
// non-2xx statuses and success=false all become *Error.
func (c *Client) do(req *http.Request, op, imageID string, out reply) *Error {
	resp, err := c.http.Do(req)
	if err != nil {
		return newError(op, imageID, ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return c.statusError(resp, op, imageID)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return newError(op, imageID, ErrNetwork, fmt.Errorf("failed to read reply: %w", err))
	}
	if err := json.Unmarshal(data, out); err != nil {
		e := newError(op, imageID, ErrMalformed, fmt.Errorf("failed to decode reply: %w", err))
		e.StatusCode = resp.StatusCode
		return e
	}
	if env := out.envelope(); !env.Success {
		e := newError(op, imageID, ErrRejected, nil)
		e.StatusCode = resp.StatusCode
		e.Message = env.Message
		if e.Message == "" {
			e.Message = "backend reported failure"
		}
		return e
	}
	return nil
}

// statusError builds an *Error from a non-2xx response, using the JSON
// message when the body carries one.
func (c *Client) statusError(resp *http.Response, op, imageID string) *Error {
	cause := ErrRejected
	if resp.StatusCode == http.StatusNotFound {
		cause = ErrNotFound
	}
	e := newError(op, imageID, cause, nil)
	e.StatusCode = resp.StatusCode

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var env Envelope
	if json.Unmarshal(data, &env) == nil && env.Message != "" {
		e.Message = env.Message
	} else {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

// progressReader reports download progress after every read.
type progressReader struct {
	io.ReadCloser
	imageID string
	total   int64
	read    int64
	fn      ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.ReadCloser.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.fn(p.imageID, p.read, p.total)
	}
	return n, err
}
