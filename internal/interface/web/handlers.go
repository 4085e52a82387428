package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ArkLabsHQ/lnswap/internal/core/domain"
	"github.com/ArkLabsHQ/lnswap/internal/core/ports"
	"github.com/ArkLabsHQ/lnswap/internal/interface/web/types"
	"github.com/ArkLabsHQ/lnswap/pkg/swap"
	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

type handler struct {
	svc     ports.InvoiceService
	version string
}

func (h *handler) health(c *gin.Context) {
	if !h.svc.IsReady() {
		c.JSON(http.StatusServiceUnavailable, types.Health{Status: "starting", Version: h.version})
		return
	}
	c.JSON(http.StatusOK, types.Health{Status: "ok", Version: h.version})
}

func (h *handler) createInvoice(c *gin.Context) {
	var req types.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	expiry := time.Duration(req.Expiry) * time.Second
	invoice, err := h.svc.CreateInvoice(c.Request.Context(), req.AmountSats, req.Description, expiry)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toInvoice(invoice))
}

func (h *handler) getInvoice(c *gin.Context) {
	invoice, err := h.svc.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := toInvoice(invoice)
	if invoice.Status == swap.InvoiceFailed {
		if s, err := h.svc.GetSwap(c.Request.Context(), invoice.SwapId); err == nil {
			resp.FailureStatus = s.LastStatus
			resp.FailureReason = s.FailureReason
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handler) cancelInvoice(c *gin.Context) {
	if err := h.svc.CancelInvoice(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// waitInvoice holds the request until the invoice is paid or fails, or the
// timeout query parameter (seconds) elapses.
func (h *handler) waitInvoice(c *gin.Context) {
	timeout := defaultWaitTimeout
	if raw := c.Query("timeout"); raw != "" {
		secs, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || secs == 0 {
			badRequest(c, errors.New("timeout must be a positive number of seconds"))
			return
		}
		timeout = min(time.Duration(secs)*time.Second, maxWaitTimeout)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	invoice, err := h.svc.WaitInvoice(ctx, c.Param("id"))
	if err == nil {
		c.JSON(http.StatusOK, toInvoice(invoice))
		return
	}

	var failure *swap.TerminalFailureError
	switch {
	case errors.As(err, &failure):
		resp := toInvoice(failure.Invoice)
		resp.FailureStatus = failure.Status
		resp.FailureReason = failure.Reason
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, context.DeadlineExceeded) && c.Request.Context().Err() == nil:
		_ = c.Error(err)
		c.JSON(http.StatusRequestTimeout, types.Error{Error: "invoice still unpaid"})
	default:
		writeError(c, err)
	}
}

func (h *handler) invoiceQR(c *gin.Context) {
	size := defaultQRSize
	if raw := c.Query("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxQRSize {
			badRequest(c, errors.New("invalid qr size"))
			return
		}
		size = n
	}

	invoice, err := h.svc.GetInvoice(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	png, err := qrcode.Encode(strings.ToUpper("lightning:"+invoice.PaymentRequest), qrcode.Medium, size)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func toInvoice(i swap.Invoice) types.Invoice {
	return types.Invoice{
		SwapId:         i.SwapId,
		PaymentRequest: i.PaymentRequest,
		PaymentHash:    i.PaymentHash,
		AmountSats:     i.AmountSats,
		AmountReceived: i.AmountReceived,
		Description:    i.Description,
		Status:         i.Status.String(),
		CreatedAt:      unix(i.CreatedAt),
		ExpiresAt:      unix(i.ExpiresAt),
		Preimage:       i.Preimage,
	}
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, types.Error{Error: err.Error()})
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusCode(err), types.Error{Error: err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, swap.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, swap.ErrSwapNotFound), errors.Is(err, domain.ErrSwapNotFound):
		return http.StatusNotFound
	case errors.Is(err, swap.ErrInvoiceCancelled):
		return http.StatusGone
	case errors.Is(err, swap.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, swap.ErrClientClosed), errors.Is(err, swap.ErrListenerDisposed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
