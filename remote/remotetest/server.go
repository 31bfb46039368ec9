// Package remotetest provides an in-memory implementation of the backend
// API for tests and local demos.
//
// The fake stores uploaded bytes and serves them back for every variant; it
// does not transform pixels. Failures can be injected per operation and file
// name, and a hook runs before every transform reply so tests can control
// completion order.
//
//	srv := remotetest.New()
//	url := srv.Start()
//	defer srv.Close()
//	srv.Fail("compress", "img2.jpg", "unsupported image mode")
package remotetest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/imagepress/imagepress"
	"github.com/imagepress/imagepress/remote"
)

// Operation names accepted by Fail and reported by Calls.
const (
	OpUpload         = "upload"
	OpCompress       = "compress"
	OpWatermark      = "watermark"
	OpBasicOperation = "basic_operation"
	OpImage          = "image"
	OpDownload       = "download"
	OpDelete         = "delete"
	OpStatus         = "status"
)

type storedImage struct {
	fileName string
	data     []byte
	variants map[imagepress.VariantKind]string
}

// Server is the fake backend.
type Server struct {
	mu         sync.Mutex
	images     map[string]*storedImage
	failures   map[string]string
	calls      map[string]int
	watermarks []remote.WatermarkRequest
	hook       func(op, imageID, fileName string)

	router chi.Router
	hts    *httptest.Server
	logger logrus.FieldLogger
}

// New creates a fake backend. Call Start to serve it, or mount Handler.
func New() *Server {
	s := &Server{
		images:   map[string]*storedImage{},
		failures: map[string]string{},
		calls:    map[string]int{},
		logger:   logrus.StandardLogger().WithField("component", "fake-backend"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/compress", s.handleCompress)
		r.Post("/watermark", s.handleWatermark)
		r.Post("/basic_operation", s.handleBasicOperation)
		r.Get("/image/{id}", s.handleImage)
		r.Get("/download/{id}", s.handleDownload)
		r.Delete("/delete/{id}", s.handleDelete)
		r.Get("/status/{id}", s.handleStatus)
	})
	s.router = r
	return s
}

// SetLogger replaces the request logger.
func (s *Server) SetLogger(logger logrus.FieldLogger) {
	s.logger = logger
}

// Handler returns the HTTP handler serving /api.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves the fake on a loopback port and returns its /api base URL.
func (s *Server) Start() string {
	s.hts = httptest.NewServer(s.router)
	return s.hts.URL + "/api"
}

// Close stops a started server.
func (s *Server) Close() {
	if s.hts != nil {
		s.hts.Close()
	}
}

// Fail makes op fail for the file uploaded as fileName with message. Use
// "*" as fileName to fail op for every image.
func (s *Server) Fail(op, fileName, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op+"|"+fileName] = message
}

// ClearFailures removes every injected failure.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]string{}
}

// SetHook installs fn to run before each transform reply is written. It may
// block; the request stays in flight until it returns.
func (s *Server) SetHook(fn func(op, imageID, fileName string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// Calls returns how many requests op has received.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// WatermarkRequests returns every watermark request body received.
func (s *Server) WatermarkRequests() []remote.WatermarkRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]remote.WatermarkRequest, len(s.watermarks))
	copy(out, s.watermarks)
	return out
}

// Len returns the number of stored images.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

func (s *Server) count(op string) {
	s.mu.Lock()
	s.calls[op]++
	s.mu.Unlock()
}

// failure returns the injected message for op on fileName, if any.
func (s *Server) failure(op, fileName string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.failures[op+"|"+fileName]; ok {
		return msg, true
	}
	msg, ok := s.failures[op+"|*"]
	return msg, ok
}

func (s *Server) lookup(id string) (*storedImage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	return img, ok
}

func (s *Server) runHook(op, id, fileName string) {
	s.mu.Lock()
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		hook(op, id, fileName)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, remote.Envelope{Success: false, Message: message})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.count(OpUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		fail(w, r, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if !remote.AllowedExtensions[ext] {
		render.JSON(w, r, remote.Envelope{Success: false, Message: "Invalid file type"})
		return
	}
	if msg, ok := s.failure(OpUpload, header.Filename); ok {
		render.JSON(w, r, remote.Envelope{Success: false, Message: msg})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		fail(w, r, http.StatusInternalServerError, "Failed to read upload")
		return
	}

	id := uuid.NewString()
	ref := fmt.Sprintf("uploads/%s_%s", id, header.Filename)
	s.mu.Lock()
	s.images[id] = &storedImage{
		fileName: header.Filename,
		data:     data,
		variants: map[imagepress.VariantKind]string{imagepress.VariantOriginal: ref},
	}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{"image_id": id, "file_name": header.Filename}).Debug("upload stored")
	render.JSON(w, r, remote.UploadReply{
		Envelope:         remote.Envelope{Success: true, Message: "Image uploaded successfully"},
		ImageID:          id,
		OriginalImageURL: ref,
	})
}

// transform is the shared flow of the three transform endpoints: decode,
// look up, apply injected failures, run the hook, record the new variant.
func (s *Server) transform(w http.ResponseWriter, r *http.Request, op string, req any, imageID func() string, kind func() imagepress.VariantKind, ref func(id string) string, reply func(ref string) any) {
	s.count(op)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		fail(w, r, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	id := imageID()
	if id == "" {
		fail(w, r, http.StatusBadRequest, "Missing required parameters")
		return
	}
	img, ok := s.lookup(id)
	if !ok {
		render.JSON(w, r, remote.Envelope{Success: false, Message: "Image not found"})
		return
	}

	s.runHook(op, id, img.fileName)

	if msg, failed := s.failure(op, img.fileName); failed {
		render.JSON(w, r, remote.Envelope{Success: false, Message: msg})
		return
	}

	out := ref(id)
	s.mu.Lock()
	img.variants[kind()] = out
	s.mu.Unlock()
	render.JSON(w, r, reply(out))
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	var req remote.CompressRequest
	s.transform(w, r, OpCompress, &req,
		func() string { return req.ImageID },
		func() imagepress.VariantKind { return imagepress.VariantKind(req.CompressionFormat) },
		func(id string) string { return fmt.Sprintf("compressed/%s.%s", id, req.CompressionFormat) },
		func(ref string) any {
			return remote.CompressReply{
				Envelope:           remote.Envelope{Success: true, Message: "Image compressed successfully"},
				CompressedImageURL: ref,
			}
		})
}

func (s *Server) handleWatermark(w http.ResponseWriter, r *http.Request) {
	var req remote.WatermarkRequest
	s.transform(w, r, OpWatermark, &req,
		func() string {
			s.mu.Lock()
			s.watermarks = append(s.watermarks, req)
			s.mu.Unlock()
			return req.ImageID
		},
		func() imagepress.VariantKind { return imagepress.VariantWatermarked },
		func(id string) string { return fmt.Sprintf("watermarked/%s.png", id) },
		func(ref string) any {
			return remote.WatermarkReply{
				Envelope:            remote.Envelope{Success: true, Message: "Watermark added successfully"},
				WatermarkedImageURL: ref,
			}
		})
}

func (s *Server) handleBasicOperation(w http.ResponseWriter, r *http.Request) {
	var req remote.BasicOperationRequest
	s.transform(w, r, OpBasicOperation, &req,
		func() string { return req.ImageID },
		func() imagepress.VariantKind { return imagepress.VariantModified },
		func(id string) string { return fmt.Sprintf("modified/%s_modified.png", id) },
		func(ref string) any {
			return remote.BasicOperationReply{
				Envelope:         remote.Envelope{Success: true, Message: "Image operations applied successfully"},
				ModifiedImageURL: ref,
			}
		})
}

// variant returns the stored bytes when kind has been produced for id.
func (s *Server) variant(id string, kind imagepress.VariantKind) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return nil, false
	}
	if _, ok := img.variants[kind]; !ok {
		return nil, false
	}
	return img.data, true
}

func variantKind(r *http.Request) imagepress.VariantKind {
	if t := r.URL.Query().Get("type"); t != "" {
		return imagepress.VariantKind(t)
	}
	return imagepress.VariantOriginal
}

func notFoundMessage(kind imagepress.VariantKind) string {
	k := string(kind)
	if k == "" {
		return "Image not found"
	}
	return strings.ToUpper(k[:1]) + k[1:] + " image not found"
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	s.count(OpImage)
	kind := variantKind(r)
	data, ok := s.variant(chi.URLParam(r, "id"), kind)
	if !ok {
		fail(w, r, http.StatusNotFound, notFoundMessage(kind))
		return
	}
	render.JSON(w, r, remote.ImageReply{
		Envelope:    remote.Envelope{Success: true},
		ImageBase64: base64.StdEncoding.EncodeToString(data),
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.count(OpDownload)
	kind := variantKind(r)
	data, ok := s.variant(chi.URLParam(r, "id"), kind)
	if !ok {
		fail(w, r, http.StatusNotFound, notFoundMessage(kind))
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.Write(data)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.count(OpDelete)
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	img, ok := s.images[id]
	if ok {
		delete(s.images, id)
	}
	s.mu.Unlock()

	if !ok {
		render.JSON(w, r, remote.Envelope{Success: false, Message: "No image files found to delete"})
		return
	}
	if msg, failed := s.failure(OpDelete, img.fileName); failed {
		s.mu.Lock()
		s.images[id] = img
		s.mu.Unlock()
		render.JSON(w, r, remote.Envelope{Success: false, Message: msg})
		return
	}
	render.JSON(w, r, remote.DeleteReply{Envelope: remote.Envelope{Success: true, Message: "Image deleted successfully"}})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.count(OpStatus)
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	img, ok := s.images[id]
	var reply remote.StatusReply
	if ok {
		reply = remote.StatusReply{
			Envelope:            remote.Envelope{Success: true},
			ImageID:             id,
			Status:              "uploaded",
			OriginalImageURL:    img.variants[imagepress.VariantOriginal],
			WatermarkedImageURL: img.variants[imagepress.VariantWatermarked],
		}
		if c := img.variants[imagepress.VariantWebP]; c != "" {
			reply.CompressedImageURL = c
		} else {
			reply.CompressedImageURL = img.variants[imagepress.VariantJPEG]
		}
		switch {
		case reply.WatermarkedImageURL != "":
			reply.Status = "watermarked"
		case reply.CompressedImageURL != "":
			reply.Status = "compressed"
		}
	}
	s.mu.Unlock()

	if !ok {
		render.JSON(w, r, remote.Envelope{Success: false, Message: "Image not found"})
		return
	}
	render.JSON(w, r, reply)
}
