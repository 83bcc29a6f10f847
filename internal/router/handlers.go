package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/localrest/internal/inspector"
	"github.com/vyrodovalexey/localrest/internal/observability"
	"github.com/vyrodovalexey/localrest/internal/util"
)

// certificateContentType is the media type for a CA certificate download.
const certificateContentType = "application/x-x509-ca-cert"

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Status        string            `json:"status"`
	Service       string            `json:"service"`
	Version       string            `json:"version"`
	Authenticated bool              `json:"authenticated"`
	Certificate   *inspector.Report `json:"certificate,omitempty"`
}

func (r *Router) status(c *gin.Context) StatusResponse {
	return StatusResponse{
		Status:        "OK",
		Service:       ServiceName,
		Version:       r.version,
		Authenticated: r.authenticate(c) == nil,
		Certificate:   r.source.CertificateReport(r.now()),
	}
}

// handleStatus serves the unauthenticated status document.
func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.status(c))
}

// handleAPIStatus serves the status document to authenticated clients.
func (r *Router) handleAPIStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.status(c))
}

// certificate returns the active certificate PEM.
func (r *Router) certificate() (string, error) {
	certPEM := r.source.CertificatePEM()
	if certPEM == "" {
		return "", fmt.Errorf("certificate: %w", util.ErrNotFound)
	}
	return certPEM, nil
}

// handleCertificate serves the active certificate so clients can trust it.
func (r *Router) handleCertificate(c *gin.Context) {
	certPEM, err := r.certificate()
	if err != nil {
		r.logger.Debug("certificate unavailable", observability.Error(err))
		r.handleNotFound(c)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="localrest.crt"`)
	c.Data(http.StatusOK, certificateContentType, []byte(certPEM))
}

func (r *Router) handleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"errorCode": http.StatusNotFound,
		"message":   "Not Found",
	})
}
