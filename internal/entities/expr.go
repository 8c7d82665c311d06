//
//  Copyright © Manetu Inc. All rights reserved.
//

package entities

import (
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"time"

	"github.com/cedar-policy/cedar-go/types"

	"github.com/manetu/cedarengine/internal/schema"
)

// jsonTypeName names a decoded JSON value's shape for error messages.
func jsonTypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

func toLong(v interface{}) (types.Long, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return types.Long(n), true
	case int:
		return types.Long(n), true
	case int64:
		return types.Long(n), true
	}
	return 0, false
}

// typedValue converts a decoded JSON value into the Cedar value the
// schema expects for one attribute.
func typedValue(claim string, v interface{}, expected schema.ExpectedType) (types.Value, error) {
	mismatch := func() error {
		return &TypeMismatchError{Claim: claim, Expected: expected.String(), Actual: jsonTypeName(v)}
	}

	switch exp := expected.(type) {
	case schema.StringType:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch()
		}
		return types.String(s), nil

	case schema.LongType:
		n, ok := toLong(v)
		if !ok {
			return nil, mismatch()
		}
		return n, nil

	case schema.BoolType:
		b, ok := v.(bool)
		if !ok {
			return nil, mismatch()
		}
		return types.Boolean(b), nil

	case schema.ExtensionType:
		s, ok := v.(string)
		if !ok {
			return nil, mismatch()
		}
		val, err := parseExtension(exp.Name, s)
		if err != nil {
			return nil, &TypeMismatchError{Claim: claim, Expected: exp.Name, Actual: fmt.Sprintf("%q", s)}
		}
		return val, nil

	case schema.ArrayType:
		arr, ok := v.([]interface{})
		if !ok {
			return nil, mismatch()
		}
		elems := make([]types.Value, 0, len(arr))
		for _, elem := range arr {
			converted, err := typedValue(claim, elem, exp.Element)
			if err != nil {
				return nil, err
			}
			elems = append(elems, converted)
		}
		return types.NewSet(elems...), nil

	case schema.ObjectType:
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, mismatch()
		}
		record := types.RecordMap{}
		for field, fieldExp := range exp.Fields {
			fieldVal, present := obj[field]
			if !present {
				continue
			}
			converted, err := typedValue(claim+"."+field, fieldVal, fieldExp)
			if err != nil {
				return nil, err
			}
			record[types.String(field)] = converted
		}
		return types.NewRecord(record), nil
	}

	return nil, mismatch()
}

func parseExtension(name, s string) (types.Value, error) {
	switch name {
	case "decimal":
		v, err := types.ParseDecimal(s)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "ipaddr":
		v, err := types.ParseIPAddr(s)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "datetime":
		v, err := types.ParseDatetime(s)
		if err != nil {
			return nil, err
		}
		return v, nil
	case "duration":
		v, err := types.ParseDuration(s)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown extension type %q", name)
}

// inferredValue converts a decoded JSON value into a Cedar value
// without schema guidance.  Strings are sniffed for extension forms
// (IP address, RFC 3339 timestamp) and for the {"type","id"} entity
// marker; everything else maps structurally.
func inferredValue(claim string, v interface{}) (types.Value, error) {
	switch val := v.(type) {
	case string:
		return inferString(val), nil

	case bool:
		return types.Boolean(val), nil

	case float64:
		if n, ok := toLong(val); ok {
			return n, nil
		}
		if d, err := types.ParseDecimal(strconv.FormatFloat(val, 'f', 4, 64)); err == nil {
			return d, nil
		}
		return nil, &TypeMismatchError{Claim: claim, Expected: "Long or decimal", Actual: "number"}

	case int:
		return types.Long(val), nil

	case int64:
		return types.Long(val), nil

	case []interface{}:
		elems := make([]types.Value, 0, len(val))
		for _, elem := range val {
			converted, err := inferredValue(claim, elem)
			if err != nil {
				return nil, err
			}
			elems = append(elems, converted)
		}
		return types.NewSet(elems...), nil

	case map[string]interface{}:
		if uid, ok := entityMarker(val); ok {
			return uid, nil
		}
		record := types.RecordMap{}
		for field, fieldVal := range val {
			converted, err := inferredValue(claim+"."+field, fieldVal)
			if err != nil {
				return nil, err
			}
			record[types.String(field)] = converted
		}
		return types.NewRecord(record), nil

	case nil:
		return nil, &TypeMismatchError{Claim: claim, Expected: "a value", Actual: "null"}
	}

	return nil, &TypeMismatchError{Claim: claim, Expected: "a JSON value", Actual: jsonTypeName(v)}
}

// inferString recognizes the string encodings of Cedar extension values
// so that untyped claims still compare correctly in policies.  Anything
// unrecognized stays a plain string.
func inferString(s string) types.Value {
	if _, err := netip.ParseAddr(s); err == nil {
		if ip, err := types.ParseIPAddr(s); err == nil {
			return ip
		}
	}
	if _, err := netip.ParsePrefix(s); err == nil {
		if ip, err := types.ParseIPAddr(s); err == nil {
			return ip
		}
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		if dt, err := types.ParseDatetime(s); err == nil {
			return dt
		}
	}
	if d, err := types.ParseDecimal(s); err == nil {
		return d
	}
	if d, err := types.ParseDuration(s); err == nil {
		return d
	}
	return types.String(s)
}

// entityMarker recognizes {"type": T, "id": I} objects as entity
// references.
func entityMarker(obj map[string]interface{}) (types.Value, bool) {
	if len(obj) != 2 {
		return nil, false
	}
	typeName, ok := obj["type"].(string)
	if !ok {
		return nil, false
	}
	id, ok := obj["id"].(string)
	if !ok {
		return nil, false
	}
	return types.NewEntityUID(types.EntityType(typeName), types.String(id)), true
}
