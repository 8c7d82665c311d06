//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package mock provides a built-in policy store used when mock mode is
// enabled, allowing applications that embed the engine to unit-test
// without shipping a real store.
package mock

import (
	"github.com/manetu/cedarengine/internal/logging"
	"github.com/manetu/cedarengine/pkg/core/config"
	"github.com/manetu/cedarengine/pkg/core/engine"
	"github.com/manetu/cedarengine/pkg/core/policystore"
)

const (
	// MockDocument optionally carries an inline policy store document
	// (YAML) to serve in mock mode instead of the permissive default.
	//
	// Set via config:
	//
	//	mock:
	//	  enabled: true
	//	  document: |
	//	    name: my-mock-store
	//	    policies:
	//	      ...
	MockDocument string = "mock.document"
)

var logger = logging.GetLogger("cedarengine.mock")
var mockAgent string = "mock"

const permissiveDocument = `
name: mock
description: permissive mock store
policies:
  permit-all: |
    permit(principal, action, resource);
`

// NewStore builds the mock policy store. The store either comes from the
// mock.document configuration key or falls back to a single permit-all
// policy with no trusted issuers.
func NewStore(compiler *engine.Compiler) (*policystore.Store, error) {
	logger.Warn(mockAgent, "Init", "RUNNING IN MOCK MODE. SHOULD NOT BE USED IN PRODUCTION")

	doc := config.VConfig.GetString(MockDocument)
	if doc == "" {
		doc = permissiveDocument
	}

	return policystore.FromDocuments(compiler, map[string][]byte{"mock": []byte(doc)})
}
