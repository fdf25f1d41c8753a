// Package tustest provides an in-process tus server for tests.
package tustest

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// BasePath is the storage API prefix the server is mounted on.
const BasePath = "/storage/v1"

const resumablePath = BasePath + "/upload/resumable"

// Response overrides how the server answers one request.
type Response struct {
	Status int
	Header map[string]string
	Body   string
	// Drop closes the connection without answering.
	Drop bool
	// Store processes the request normally before answering with Status.
	Store bool
}

// Request is a recorded request.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Upload is the server side state of one upload.
type Upload struct {
	ID       string
	Length   int64
	Metadata string
	Data     []byte
}

// Offset returns the number of stored bytes.
func (u Upload) Offset() int64 {
	return int64(len(u.Data))
}

// Server is a minimal tus 1.0.0 server with scriptable responses.
type Server struct {
	*httptest.Server

	// AbsoluteLocation makes session creation answer with an absolute Location.
	AbsoluteLocation bool

	mu       sync.Mutex
	uploads  map[string]*Upload
	order    []string
	requests []Request
	scripts  map[string][]Response
}

// NewServer starts a server. Close it when done.
func NewServer() *Server {
	s := &Server{
		uploads: map[string]*Upload{},
		scripts: map[string][]Response{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Endpoint returns the storage API base URL to upload against.
func (s *Server) Endpoint() string {
	return s.URL + BasePath
}

// Enqueue scripts the next responses to requests with the given method.
// Scripted responses are consumed in order; afterwards the server behaves normally.
func (s *Server) Enqueue(method string, responses ...Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[method] = append(s.scripts[method], responses...)
}

// Requests returns the recorded requests, optionally filtered by method.
func (s *Server) Requests(method string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	var requests []Request
	for _, r := range s.requests {
		if method == "" || r.Method == method {
			requests = append(requests, r)
		}
	}
	return requests
}

// LastUpload returns a copy of the most recently created upload.
func (s *Server) LastUpload() (Upload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return Upload{}, false
	}
	u := s.uploads[s.order[len(s.order)-1]]
	return Upload{ID: u.ID, Length: u.Length, Metadata: u.Metadata, Data: append([]byte(nil), u.Data...)}, true
}

// Uploads returns a copy of every created upload in creation order.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()

	uploads := make([]Upload, 0, len(s.order))
	for _, id := range s.order {
		u := s.uploads[id]
		uploads = append(uploads, Upload{ID: u.ID, Length: u.Length, Metadata: u.Metadata, Data: append([]byte(nil), u.Data...)})
	}
	return uploads
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
	script, scripted := s.nextScript(r.Method)
	s.mu.Unlock()

	if scripted && script.Drop {
		drop(w)
		return
	}
	if scripted && !script.Store {
		write(w, script.Status, script.Header, script.Body)
		return
	}

	status, header, respBody := s.serve(r, body)
	if scripted {
		for k, v := range script.Header {
			header[k] = v
		}
		status, respBody = script.Status, script.Body
	}
	write(w, status, header, respBody)
}

func (s *Server) nextScript(method string) (Response, bool) {
	queue := s.scripts[method]
	if len(queue) == 0 {
		return Response{}, false
	}
	s.scripts[method] = queue[1:]
	return queue[0], true
}

func (s *Server) serve(r *http.Request, body []byte) (int, map[string]string, string) {
	header := map[string]string{"Tus-Resumable": "1.0.0"}

	if r.Header.Get("Tus-Resumable") != "1.0.0" {
		return http.StatusPreconditionFailed, header, "missing Tus-Resumable"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Method == http.MethodPost && r.URL.Path == resumablePath {
		length, err := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
		if err != nil || length < 0 {
			return http.StatusBadRequest, header, "invalid Upload-Length"
		}
		id := fmt.Sprintf("upload-%d", len(s.order)+1)
		s.uploads[id] = &Upload{ID: id, Length: length, Metadata: r.Header.Get("Upload-Metadata")}
		s.order = append(s.order, id)

		header["Location"] = resumablePath + "/" + id
		if s.AbsoluteLocation {
			header["Location"] = s.URL + resumablePath + "/" + id
		}
		return http.StatusCreated, header, ""
	}

	id := strings.TrimPrefix(r.URL.Path, resumablePath+"/")
	upload, ok := s.uploads[id]
	if !ok {
		return http.StatusNotFound, header, "upload not found"
	}

	switch r.Method {
	case http.MethodHead:
		header["Upload-Offset"] = strconv.FormatInt(upload.Offset(), 10)
		header["Upload-Length"] = strconv.FormatInt(upload.Length, 10)
		header["Cache-Control"] = "no-store"
		return http.StatusOK, header, ""
	case http.MethodPatch:
		if r.Header.Get("Content-Type") != "application/offset+octet-stream" {
			return http.StatusUnsupportedMediaType, header, "invalid Content-Type"
		}
		offset, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
		if err != nil || offset != upload.Offset() {
			return http.StatusConflict, header, "offset mismatch"
		}
		if upload.Offset()+int64(len(body)) > upload.Length {
			return http.StatusRequestEntityTooLarge, header, "upload exceeds length"
		}
		upload.Data = append(upload.Data, body...)
		header["Upload-Offset"] = strconv.FormatInt(upload.Offset(), 10)
		return http.StatusNoContent, header, ""
	default:
		return http.StatusMethodNotAllowed, header, ""
	}
}

func write(w http.ResponseWriter, status int, header map[string]string, body string) {
	for k, v := range header {
		w.Header().Set(k, v)
	}
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if body != "" {
		_, _ = io.Copy(w, bytes.NewBufferString(body))
	}
}

func drop(w http.ResponseWriter) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		panic("tustest: response writer does not support hijacking")
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		panic(err)
	}
	_ = conn.Close()
}
