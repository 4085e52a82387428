package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ArkLabsHQ/lnswap/internal/core/ports"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const (
	defaultWaitTimeout = 30 * time.Second
	maxWaitTimeout     = 5 * time.Minute
)

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
}

func NewServer(svc ports.InvoiceService, port uint32, version string) *Server {
	h := &handler{svc: svc, version: version}
	router := newRouter(h)

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", port),
			Handler:     router,
			ReadTimeout: 5 * time.Second,
			// wait requests hold the connection up to maxWaitTimeout
			WriteTimeout: maxWaitTimeout + 10*time.Second,
		},
	}
}

func newRouter(h *handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(RecoveryMiddleware(), LoggerMiddleware())

	router.GET("/health", h.health)

	v1 := router.Group("/v1")
	v1.POST("/invoices", h.createInvoice)
	v1.GET("/invoices/:id", h.getInvoice)
	v1.DELETE("/invoices/:id", h.cancelInvoice)
	v1.GET("/invoices/:id/wait", h.waitInvoice)
	v1.GET("/invoices/:id/qr", h.invoiceQR)

	return router
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the port and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server stopped")
		}
	}()

	log.Infof("http server listening on %s", listener.Addr())
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
