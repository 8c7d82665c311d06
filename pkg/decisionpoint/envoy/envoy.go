//
//  Copyright © Manetu Inc. All rights reserved.
//

package envoy

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"github.com/manetu/cedarengine/internal/logging"
	"github.com/manetu/cedarengine/pkg/core/types"
	"github.com/manetu/cedarengine/pkg/decisionpoint"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/manetu/cedarengine/pkg/core"
)

var logger = logging.GetLogger("cedarengine.decisionpoint")

const agent string = "envoy"

const (
	resultHeader   = "x-ext-authz-check-result"
	receivedHeader = "x-ext-authz-check-received"
	resultAllowed  = "allowed"
	resultDenied   = "denied"

	// DefaultResourceType is the Cedar entity type assigned to checked
	// routes when CreateServer is not given one.
	DefaultResourceType = "Authz::Route"
)

// Header names carrying bearer tokens on checked requests.  The
// authorization header maps to the access token; the auxiliary headers
// allow enforcement points to forward the rest of the token triad.
const (
	authorizationHeader = "authorization"
	idTokenHeader       = "x-id-token"
	userinfoTokenHeader = "x-userinfo-token"
	bearerPrefix        = "bearer "
)

func returnIfNotTooLong(body string) string {
	// Maximum size of a header accepted by Envoy is 60KiB, so when the request body is bigger than 60KB,
	// we don't return it in a response header to avoid rejecting it by Envoy and returning 431 to the client
	if len(body) > 60000 {
		return "<too-long>"
	}
	return body
}

// ExtAuthzServer implements the ext_authz v3 gRPC check request API.
type ExtAuthzServer struct {
	grpcServer   *grpc.Server
	pe           core.PolicyEngine
	resourceType string

	// For test only
	grpcPort chan int
}

func logRequest(allow string, request *authv3.CheckRequest) {
	httpAttrs := request.GetAttributes().GetRequest().GetHttp()
	logger.Tracef(agent, "logRequest", "[gRPCv3][%s]: %s%s, attributes: %v", allow, httpAttrs.GetHost(),
		httpAttrs.GetPath(),
		request.GetAttributes())
}

func (s *ExtAuthzServer) allow(request *authv3.CheckRequest) *authv3.CheckResponse {
	logRequest("allowed", request)
	return &authv3.CheckResponse{
		HttpResponse: &authv3.CheckResponse_OkResponse{
			OkResponse: &authv3.OkHttpResponse{
				Headers: []*corev3.HeaderValueOption{
					{
						Header: &corev3.HeaderValue{
							Key:   resultHeader,
							Value: resultAllowed,
						},
					},
					{
						Header: &corev3.HeaderValue{
							Key:   receivedHeader,
							Value: returnIfNotTooLong(request.GetAttributes().String()),
						},
					},
				},
			},
		},
		Status: &status.Status{Code: int32(codes.OK)},
	}
}

func (s *ExtAuthzServer) deny(request *authv3.CheckRequest) *authv3.CheckResponse {
	logRequest("denied", request)
	return &authv3.CheckResponse{
		HttpResponse: &authv3.CheckResponse_DeniedResponse{
			DeniedResponse: &authv3.DeniedHttpResponse{
				Status: &typev3.HttpStatus{Code: typev3.StatusCode_Forbidden},
				Body:   "permission denied",
				Headers: []*corev3.HeaderValueOption{
					{
						Header: &corev3.HeaderValue{
							Key:   resultHeader,
							Value: resultDenied,
						},
					},
					{
						Header: &corev3.HeaderValue{
							Key:   receivedHeader,
							Value: returnIfNotTooLong(request.GetAttributes().String()),
						},
					},
				},
			},
		},
		Status: &status.Status{Code: int32(codes.PermissionDenied)},
	}
}

// extractTokens pulls bearer tokens off the checked request's headers.
func extractTokens(headers map[string]string) map[string]types.AnyToken {
	tokens := map[string]types.AnyToken{}

	for key, value := range headers {
		switch strings.ToLower(key) {
		case authorizationHeader:
			if strings.HasPrefix(strings.ToLower(value), bearerPrefix) {
				tokens["access_token"] = value[len(bearerPrefix):]
			}
		case idTokenHeader:
			tokens["id_token"] = value
		case userinfoTokenHeader:
			tokens["userinfo_token"] = value
		}
	}

	return tokens
}

// buildRequest maps a check request onto a token-based authorization
// request: the HTTP method becomes the action, the host plus path the
// resource id, and the transport attributes the evaluation context.
func (s *ExtAuthzServer) buildRequest(request *authv3.CheckRequest) *types.Request {
	httpAttrs := request.GetAttributes().GetRequest().GetHttp()

	evalContext := map[string]interface{}{
		"method": httpAttrs.GetMethod(),
		"path":   httpAttrs.GetPath(),
		"host":   httpAttrs.GetHost(),
		"scheme": httpAttrs.GetScheme(),
	}
	if src := request.GetAttributes().GetSource().GetPrincipal(); src != "" {
		evalContext["source_principal"] = src
	}
	if dst := request.GetAttributes().GetDestination().GetPrincipal(); dst != "" {
		evalContext["destination_principal"] = dst
	}

	return &types.Request{
		Tokens: extractTokens(httpAttrs.GetHeaders()),
		Action: httpAttrs.GetMethod(),
		Resource: types.EntityData{
			UID: types.EntityUID{
				Type: s.resourceType,
				ID:   httpAttrs.GetHost() + httpAttrs.GetPath(),
			},
		},
		Context: evalContext,
	}
}

// Check implements the gRPC v3 check request.  Evaluation failures deny
// rather than erroring; an enforcement point must fail closed.
func (s *ExtAuthzServer) Check(ctx context.Context, request *authv3.CheckRequest) (*authv3.CheckResponse, error) {
	result, err := s.pe.Authorize(ctx, s.buildRequest(request))
	if err != nil {
		logger.Debugf(agent, "check", "authorization error: %+v", err)
		return s.deny(request), nil
	}

	if result.Decision {
		return s.allow(request), nil
	}

	return s.deny(request), nil
}

func (s *ExtAuthzServer) startGRPC(address string, wg *sync.WaitGroup) {
	logger.Infof(agent, "start", "Starting Envoy External Authorization gRPC server on %s", address)
	defer func() {
		wg.Done()
		logger.SysInfof("Stopped gRPC server")
	}()

	listener, err := net.Listen("tcp", address)
	if err != nil {
		logger.Fatalf(agent, "net.listen", "Failed to start gRPC server: %v", err)
		return
	}

	s.grpcServer = grpc.NewServer()
	authv3.RegisterAuthorizationServer(s.grpcServer, s)

	// Store the port for test only. Must be after grpcServer is set to avoid race condition.
	s.grpcPort <- listener.Addr().(*net.TCPAddr).Port

	logger.SysInfof("Starting gRPC server at %s", listener.Addr())
	if err := s.grpcServer.Serve(listener); err != nil {
		logger.Fatalf(agent, "grpc.start", "Failed to serve gRPC server: %v", err)
		return
	}
}

func (s *ExtAuthzServer) run(grpcAddr string) {
	var wg sync.WaitGroup
	wg.Add(2)
	go s.startGRPC(grpcAddr, &wg)
	wg.Wait()
}

// CreateServer creates and starts a new Envoy External Authorization server.
// It returns a Server interface that implements the decisionpoint.Server interface.
// The resourceType parameter selects the Cedar entity type assigned to checked
// routes; pass "" for [DefaultResourceType].
func CreateServer(pe core.PolicyEngine, port int, resourceType string) (decisionpoint.Server, error) {
	if resourceType == "" {
		resourceType = DefaultResourceType
	}

	s := &ExtAuthzServer{
		grpcPort:     make(chan int, 1),
		pe:           pe,
		resourceType: resourceType,
	}

	go s.run(fmt.Sprintf(":%d", port))

	return s, nil
}

// Stop gracefully stops the ExtAuthzServer by stopping the underlying gRPC server.
func (s *ExtAuthzServer) Stop(ctx context.Context) error {
	s.grpcServer.Stop()
	logger.SysInfof("GRPC server stopped")

	return nil
}
