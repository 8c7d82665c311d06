//
//  Copyright © Manetu Inc. All rights reserved.
//

package generic

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/http"

	"github.com/manetu/cedarengine/pkg/common"
	"github.com/manetu/cedarengine/pkg/core"
	"github.com/manetu/cedarengine/pkg/core/options"
	"github.com/manetu/cedarengine/pkg/core/types"
	"github.com/manetu/cedarengine/pkg/decisionpoint"

	"github.com/labstack/echo/v4"
)

//go:embed openapi.yaml
var schema embed.FS

// Server represents a generic decision point server that serves the REST API.
type Server struct {
	echo *echo.Echo
	pe   core.PolicyEngine
}

// decisionResponse is the REST rendering of one decision.  Rejections
// (trust mode, entity build, bad input) surface as deny with a reason
// rather than an HTTP error; the decision endpoint fails closed.
type decisionResponse struct {
	*types.Result
	ReasonCode string `json:"reason_code,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func denied(derr *common.DecisionError) *decisionResponse {
	return &decisionResponse{
		Result:     &types.Result{},
		ReasonCode: derr.ReasonCode.String(),
		Reason:     derr.Error(),
	}
}

func probeOption(c echo.Context) options.AuthzOptionsFunc {
	return options.SetProbeMode(c.QueryParam("probe") == "true")
}

// decision handles token-based decision requests.
func (s *Server) decision(c echo.Context) error {
	var request types.Request
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := s.pe.Authorize(c.Request().Context(), &request, probeOption(c))
	if err != nil {
		var derr *common.DecisionError
		if errors.As(err, &derr) {
			return c.JSON(http.StatusOK, denied(derr))
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusOK, &decisionResponse{Result: result})
}

// decisionUnsigned handles decision requests with caller-asserted
// principals.
func (s *Server) decisionUnsigned(c echo.Context) error {
	var request types.RequestUnsigned
	if err := c.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := s.pe.AuthorizeUnsigned(c.Request().Context(), &request, probeOption(c))
	if err != nil {
		var derr *common.DecisionError
		if errors.As(err, &derr) {
			return c.JSON(http.StatusOK, denied(derr))
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusOK, &decisionResponse{Result: result})
}

// store reports the loaded policy store for introspection.
func (s *Server) store(c echo.Context) error {
	st := s.pe.GetStore()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"name":     st.Name(),
		"policies": st.Policies().Len(),
		"issuers":  st.Origins(),
	})
}

func (s *Server) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// CreateServer creates and starts a new generic decision point server.
// It sets up the REST API endpoints and the OpenAPI schema.
func CreateServer(pe core.PolicyEngine, port int) (decisionpoint.Server, error) {
	e := echo.New()
	e.HideBanner = true

	s := &Server{
		echo: e,
		pe:   pe,
	}

	e.POST("/decision", s.decision)
	e.POST("/decision/unsigned", s.decisionUnsigned)
	e.GET("/store", s.store)
	e.GET("/healthz", s.healthz)

	e.GET("/openapi.yaml", echo.WrapHandler(http.FileServer(http.FS(schema))))

	// Start server in goroutine since e.Start() blocks
	go func() {
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal(err)
		}
	}()

	return s, nil
}

// Stop gracefully stops the Server by shutting down the Echo HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
