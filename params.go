package statectx

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Params is a flat record of primitive values identifying one instance of a
// computation.
type Params map[string]any

// ParamsToID converts params into a deterministic, order-independent key of the
// form "a=1&b=2". Nil and empty params give "".
//
// Values must be nil, strings, booleans or numbers (named types included).
// Keys and string values are NFC-normalized first so canonically equivalent
// spellings produce one key. '%', '&' and '=' inside them are percent-escaped,
// so {"a": "1&b=2"} and {"a": "1", "b": "2"} stay distinct.
func ParamsToID(p Params) (string, error) {
	if len(p) == 0 {
		return "", nil
	}

	normalized := make(map[string]string, len(p))
	keys := make([]string, 0, len(p))
	for key, value := range p {
		rendered, err := renderParam(value)
		if err != nil {
			return "", newError("ParamsToID", KindConfiguration, key,
				fmt.Errorf("%w: parameter %q must be a string, number, bool or nil, but received %T", ErrNonPrimitiveParam, key, value))
		}

		nk := escapeParam(norm.NFC.String(key))
		if _, dup := normalized[nk]; dup {
			return "", newError("ParamsToID", KindConfiguration, key,
				fmt.Errorf("parameter %q collides with another key after normalization", key))
		}
		normalized[nk] = rendered
		keys = append(keys, nk)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, key := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(normalized[key])
	}
	return sb.String(), nil
}

// MustParamsToID is like ParamsToID but panics on error.
func MustParamsToID(p Params) string {
	id, err := ParamsToID(p)
	if err != nil {
		panic(err)
	}
	return id
}

func renderParam(value any) (string, error) {
	if value == nil {
		return "null", nil
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.String:
		return escapeParam(norm.NFC.String(v.String())), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32:
		return formatFloat(v.Float(), 32), nil
	case reflect.Float64:
		return formatFloat(v.Float(), 64), nil
	default:
		return "", ErrNonPrimitiveParam
	}
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		return trimExponent(strconv.FormatFloat(f, 'e', -1, bits))
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

var paramEscaper = strings.NewReplacer("%", "%25", "&", "%26", "=", "%3D")

func escapeParam(s string) string {
	return paramEscaper.Replace(s)
}

// trimExponent drops the zero padding strconv puts in two-digit exponents:
// 1.5e-07 becomes 1.5e-7.
func trimExponent(s string) string {
	i := strings.IndexByte(s, 'e')
	if i < 0 || i+2 >= len(s) {
		return s
	}
	mantissa, sign, digits := s[:i], s[i+1], strings.TrimLeft(s[i+2:], "0")
	if digits == "" {
		digits = "0"
	}
	return mantissa + "e" + string(sign) + digits
}

// resolveName joins a base name with its params key.
func resolveName(base, paramsID string) string {
	if paramsID == "" {
		return base
	}
	return base + "?" + paramsID
}
