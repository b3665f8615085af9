package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/moolen/voldiag/internal/logging"
)

// HTTPServer is a Component serving handler on addr.
type HTTPServer struct {
	name   string
	srv    *http.Server
	addr   net.Addr
	errCh  chan error
	logger *logging.Logger
}

// NewHTTPServer creates an HTTP component. It listens once started.
func NewHTTPServer(name, addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		name: name,
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		errCh:  make(chan error, 1),
		logger: logging.GetLogger("lifecycle.http"),
	}
}

func (h *HTTPServer) Name() string { return h.name }

// Start binds the listener synchronously so address errors surface here.
func (h *HTTPServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.srv.Addr, err)
	}
	h.addr = ln.Addr()
	h.logger.Info("%s listening on %s", h.name, h.addr)

	go func() {
		if err := h.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("%s serve error: %v", h.name, err)
			h.errCh <- err
		}
	}()
	return nil
}

func (h *HTTPServer) Stop(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}

// Addr is the bound address, nil before Start.
func (h *HTTPServer) Addr() net.Addr { return h.addr }

// Err delivers a serve failure after a successful Start.
func (h *HTTPServer) Err() <-chan error { return h.errCh }
