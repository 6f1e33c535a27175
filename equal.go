package x402

import (
	"encoding/json"
	"math/big"
	"reflect"

	"github.com/shopspring/decimal"
)

// RequirementsEqual reports whether two requirement sets are structurally equal.
// Extra is compared recursively: map keys are order-independent, slices are
// compared element by element, and numbers compare by value regardless of their
// Go type (a float64 decoded from JSON equals the int it was built from).
// A nil Extra equals an empty one.
func RequirementsEqual(a, b PaymentRequirements) bool {
	if a.Scheme != b.Scheme ||
		a.Network != b.Network ||
		a.Asset != b.Asset ||
		a.Amount != b.Amount ||
		a.PayTo != b.PayTo ||
		a.MaxTimeoutSeconds != b.MaxTimeoutSeconds {
		return false
	}
	if len(a.Extra) == 0 && len(b.Extra) == 0 {
		return true
	}
	return ValuesEqual(a.Extra, b.Extra)
}

// ValuesEqual compares two JSON-like values structurally
func ValuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if da, ok := toDecimal(a); ok {
		db, ok := toDecimal(b)
		return ok && da.Equal(db)
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	for va.Kind() == reflect.Ptr || va.Kind() == reflect.Interface {
		if va.IsNil() {
			return vb.Kind() == va.Kind() && vb.IsNil()
		}
		va = va.Elem()
	}
	for vb.Kind() == reflect.Ptr || vb.Kind() == reflect.Interface {
		if vb.IsNil() {
			return false
		}
		vb = vb.Elem()
	}

	switch va.Kind() {
	case reflect.Map:
		return mapsEqual(va, vb)
	case reflect.Slice, reflect.Array:
		if vb.Kind() != reflect.Slice && vb.Kind() != reflect.Array {
			return false
		}
		if va.Len() != vb.Len() {
			return false
		}
		for i := 0; i < va.Len(); i++ {
			if !ValuesEqual(va.Index(i).Interface(), vb.Index(i).Interface()) {
				return false
			}
		}
		return true
	case reflect.String:
		return vb.Kind() == reflect.String && va.String() == vb.String()
	case reflect.Bool:
		return vb.Kind() == reflect.Bool && va.Bool() == vb.Bool()
	}

	return reflect.DeepEqual(va.Interface(), vb.Interface())
}

func mapsEqual(va, vb reflect.Value) bool {
	if vb.Kind() != reflect.Map || va.Len() != vb.Len() {
		return false
	}
	if va.Type().Key().Kind() != reflect.String || vb.Type().Key().Kind() != reflect.String {
		return reflect.DeepEqual(va.Interface(), vb.Interface())
	}

	bKey := vb.Type().Key()
	iter := va.MapRange()
	for iter.Next() {
		other := vb.MapIndex(reflect.ValueOf(iter.Key().String()).Convert(bKey))
		if !other.IsValid() {
			return false
		}
		if !ValuesEqual(iter.Value().Interface(), other.Interface()) {
			return false
		}
	}
	return true
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int8:
		return decimal.NewFromInt(int64(n)), true
	case int16:
		return decimal.NewFromInt(int64(n)), true
	case int32:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case uint:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(uint64(n)), 0), true
	case uint8:
		return decimal.NewFromInt(int64(n)), true
	case uint16:
		return decimal.NewFromInt(int64(n)), true
	case uint32:
		return decimal.NewFromInt(int64(n)), true
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(n), 0), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case *big.Int:
		if n == nil {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromBigInt(n, 0), true
	}
	return decimal.Decimal{}, false
}
