//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"github.com/cedar-policy/cedar-go/types"
	"github.com/pkg/errors"
)

// ContextRecord converts a request context map into a Cedar record using
// the same structural inference applied to unvalidated claims.
func ContextRecord(ctx map[string]interface{}) (types.Record, error) {
	rm := types.RecordMap{}
	for name, v := range ctx {
		val, err := inferredValue(name, v)
		if err != nil {
			return types.Record{}, errors.Wrapf(err, "context key %s", name)
		}
		rm[types.String(name)] = val
	}
	return types.NewRecord(rm), nil
}
