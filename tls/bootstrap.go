package tls

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dotside-studios/nfcdata/buildinfo"
)

// DefaultBootstrapPort is the plain HTTP port the CA is served on.
const DefaultBootstrapPort = 18394

// caFileName is the download name of the CA certificate.
func caFileName() string {
	return buildinfo.Name + "-ca.pem"
}

// BootstrapServer serves the relay CA over plain HTTP so relay clients on
// other machines can trust the relay's wss:// endpoint.
type BootstrapServer struct {
	manager    *Manager
	port       int
	httpServer *http.Server
	logger     *log.Logger
}

// NewBootstrapServer creates a bootstrap server for manager's CA.
func NewBootstrapServer(manager *Manager, port int) *BootstrapServer {
	if port == 0 {
		port = DefaultBootstrapPort
	}
	return &BootstrapServer{
		manager: manager,
		port:    port,
		logger:  log.New(os.Stderr, "[bootstrap] ", log.LstdFlags),
	}
}

// Handler returns the bootstrap routes.
func (s *BootstrapServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ca.pem", s.handleCACert)
	mux.HandleFunc("/ca.crt", s.handleCACert)
	mux.HandleFunc("/fingerprint", s.handleFingerprint)
	mux.HandleFunc("/", s.handleInstructions)
	return mux
}

// Start serves the bootstrap routes in the background.
func (s *BootstrapServer) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("bootstrap listen: %w", err)
	}
	s.httpServer = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.logger.Printf("CA bootstrap server running on http://localhost:%d/ca.pem", s.port)
	if fingerprint, err := s.manager.CAFingerprint(); err == nil {
		s.logger.Printf("CA Fingerprint (SHA256): %s", fingerprint)
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Bootstrap server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the bootstrap server down.
func (s *BootstrapServer) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)
}

func (s *BootstrapServer) handleCACert(w http.ResponseWriter, r *http.Request) {
	certPEM, err := s.manager.ReadCACert()
	if err != nil {
		s.logger.Printf("Failed to read CA cert: %v", err)
		http.Error(w, "CA certificate not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", caFileName()))
	w.Write(certPEM)
}

func (s *BootstrapServer) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	fingerprint, err := s.manager.CAFingerprint()
	if err != nil {
		http.Error(w, "CA certificate not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, fingerprint)
}

var instructionsTmpl = template.Must(template.New("instructions").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.App}} CA</title></head>
<body>
<h1>{{.App}} relay certificate</h1>
<p>Relay clients connect over wss://. Trust this CA on each client machine first.</p>
<p><a href="/ca.pem" download="{{.File}}">Download {{.File}}</a></p>
<h2>CA Fingerprint (SHA256)</h2>
<pre>{{.Fingerprint}}</pre>
<p>Compare it with the fingerprint in the relay logs before trusting.</p>
</body>
</html>
`))

func (s *BootstrapServer) handleInstructions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	fingerprint, err := s.manager.CAFingerprint()
	if err != nil {
		fingerprint = "unavailable"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	instructionsTmpl.Execute(w, struct {
		App, File, Fingerprint string
	}{buildinfo.DisplayName, caFileName(), fingerprint})
}
