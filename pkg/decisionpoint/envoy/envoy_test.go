//
//  Copyright © Manetu Inc. All rights reserved.
//

package envoy

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/manetu/cedarengine/internal/core/mock"
	"github.com/manetu/cedarengine/pkg/core"
	"github.com/manetu/cedarengine/pkg/core/accesslog"
	"github.com/manetu/cedarengine/pkg/core/config"
	"github.com/manetu/cedarengine/pkg/core/options"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
)

// restrictiveStore permits GET on any route for the demo-client workload
// only.
const restrictiveStore = `
name: envoy-test
policies:
  get-only: |
    permit(
      principal == Authz::Workload::"demo-client",
      action == Authz::Action::"GET",
      resource
    );
`

// setupTestPolicyEngine creates a PolicyEngine in mock mode, optionally
// with a custom store document.
func setupTestPolicyEngine(t *testing.T, storeDoc string) core.PolicyEngine {
	err := os.Setenv(config.ConfigPathEnv, "../../..")
	require.NoError(t, err)

	config.ResetConfig()
	config.VConfig.Set(config.MockEnabled, true)
	if storeDoc != "" {
		config.VConfig.Set(mock.MockDocument, storeDoc)
	}

	pe, err := core.NewPolicyEngine(
		options.WithAccessLog(accesslog.NewNullFactory()),
	)
	require.NoError(t, err)
	require.NotNil(t, pe)

	return pe
}

// signToken builds a syntactically valid JWT carrying the given claims.
// The signature is never verified by the engine.
func signToken(t *testing.T, claims jwt.MapClaims) string {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

// findFreePort reserves an available TCP port for the test server.
func findFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// waitForServer waits for the server to be ready by checking the grpcPort channel
func waitForServer(t *testing.T, server *ExtAuthzServer, timeout time.Duration) int {
	select {
	case port := <-server.grpcPort:
		// Give server a moment to fully start
		time.Sleep(200 * time.Millisecond)
		return port
	case <-time.After(timeout):
		t.Fatal("Server failed to start within timeout")
		return 0
	}
}

func checkRequest(token, method, path string) *authv3.CheckRequest {
	headers := map[string]string{}
	if token != "" {
		headers["authorization"] = "Bearer " + token
	}
	return &authv3.CheckRequest{
		Attributes: &authv3.AttributeContext{
			Request: &authv3.AttributeContext_Request{
				Http: &authv3.AttributeContext_HttpRequest{
					Host:    "localhost",
					Path:    path,
					Method:  method,
					Headers: headers,
				},
			},
			Destination: &authv3.AttributeContext_Peer{
				Principal: "spiffe://cluster.local/ns/default/sa/test-service",
			},
		},
	}
}

func dialServer(t *testing.T, port int) (*grpc.ClientConn, authv3.AuthorizationClient) {
	conn, err := grpc.NewClient(
		fmt.Sprintf("localhost:%d", port),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	return conn, authv3.NewAuthorizationClient(conn)
}

func TestEnvoyServer_CreateServer(t *testing.T) {
	pe := setupTestPolicyEngine(t, "")
	port := findFreePort(t)

	server, err := CreateServer(pe, port, "")
	require.NoError(t, err)
	require.NotNil(t, server)

	// Wait for server to start
	extAuthzServer := server.(*ExtAuthzServer)
	actualPort := waitForServer(t, extAuthzServer, 5*time.Second)
	assert.NotEqual(t, 0, actualPort)

	// Cleanup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = server.Stop(ctx)
	assert.NoError(t, err)
}

func TestEnvoyServer_Check_Allow(t *testing.T) {
	pe := setupTestPolicyEngine(t, restrictiveStore)
	port := findFreePort(t)

	server, err := CreateServer(pe, port, "")
	require.NoError(t, err)

	extAuthzServer := server.(*ExtAuthzServer)
	actualPort := waitForServer(t, extAuthzServer, 5*time.Second)

	conn, client := dialServer(t, actualPort)
	defer conn.Close()

	token := signToken(t, jwt.MapClaims{
		"iss": "https://idp.example.com/",
		"jti": "at-1",
		"aud": "demo-client",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, checkRequest(token, "GET", "/api/public"))
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, int32(codes.OK), resp.Status.Code)

	okResponse := resp.GetOkResponse()
	require.NotNil(t, okResponse)

	var foundHeader *corev3.HeaderValue
	for _, header := range okResponse.Headers {
		if header.Header.Key == resultHeader {
			foundHeader = header.Header
			break
		}
	}
	require.NotNil(t, foundHeader)
	assert.Equal(t, resultAllowed, foundHeader.Value)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	err = server.Stop(ctx2)
	assert.NoError(t, err)
}

func TestEnvoyServer_Check_Deny(t *testing.T) {
	pe := setupTestPolicyEngine(t, restrictiveStore)
	port := findFreePort(t)

	server, err := CreateServer(pe, port, "")
	require.NoError(t, err)

	extAuthzServer := server.(*ExtAuthzServer)
	actualPort := waitForServer(t, extAuthzServer, 5*time.Second)

	conn, client := dialServer(t, actualPort)
	defer conn.Close()

	// An unknown client is denied by the restrictive store
	token := signToken(t, jwt.MapClaims{
		"iss": "https://idp.example.com/",
		"jti": "at-2",
		"aud": "other-client",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, checkRequest(token, "GET", "/api/admin"))
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.Equal(t, int32(codes.PermissionDenied), resp.Status.Code)

	deniedResponse := resp.GetDeniedResponse()
	require.NotNil(t, deniedResponse)
	assert.Equal(t, "permission denied", deniedResponse.Body)

	var foundHeader *corev3.HeaderValue
	for _, header := range deniedResponse.Headers {
		if header.Header.Key == resultHeader {
			foundHeader = header.Header
			break
		}
	}
	require.NotNil(t, foundHeader)
	assert.Equal(t, resultDenied, foundHeader.Value)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	err = server.Stop(ctx2)
	assert.NoError(t, err)
}

func TestEnvoyServer_Check_NoToken(t *testing.T) {
	pe := setupTestPolicyEngine(t, "")
	port := findFreePort(t)

	server, err := CreateServer(pe, port, "")
	require.NoError(t, err)

	extAuthzServer := server.(*ExtAuthzServer)
	actualPort := waitForServer(t, extAuthzServer, 5*time.Second)

	conn, client := dialServer(t, actualPort)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// No bearer token means no principal can be constructed; the
	// enforcement point fails closed
	resp, err := client.Check(ctx, checkRequest("", "GET", "/api/test"))
	require.NoError(t, err)
	assert.Equal(t, int32(codes.PermissionDenied), resp.Status.Code)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = server.Stop(ctx2)
}

func TestEnvoyServer_Stop(t *testing.T) {
	pe := setupTestPolicyEngine(t, "")
	port := findFreePort(t)

	server, err := CreateServer(pe, port, "")
	require.NoError(t, err)
	require.NotNil(t, server)

	extAuthzServer := server.(*ExtAuthzServer)
	actualPort := waitForServer(t, extAuthzServer, 5*time.Second)

	// Stop the server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = server.Stop(ctx)
	assert.NoError(t, err)

	// Verify server is stopped by trying to connect
	conn, err := grpc.NewClient(
		fmt.Sprintf("localhost:%d", actualPort),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err == nil {
		conn.Close()
	}
	// Connection might succeed but the server should be stopped
	// The actual test is that Stop() doesn't error
}
