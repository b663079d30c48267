package phivault

import (
	"strconv"
)

// stringField is one string leaf of a record. set writes a replacement
// into the copy the field was collected from.
type stringField struct {
	path  string
	value string
	set   func(string)
}

// copyValue deep-copies the maps and slices of a decoded JSON value.
func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = copyValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// stringFields lists the string leaves of record with dotted paths
// ("notes", "contact.comment", "history[2]"). Other leaf types are ignored.
func stringFields(record map[string]interface{}) []stringField {
	var fields []stringField
	for k, v := range record {
		collectStrings(v, k, func(s string) { record[k] = s }, &fields)
	}
	return fields
}

func collectStrings(v interface{}, path string, set func(string), out *[]stringField) {
	switch t := v.(type) {
	case string:
		*out = append(*out, stringField{path: path, value: t, set: set})
	case map[string]interface{}:
		for k, e := range t {
			collectStrings(e, path+"."+k, func(s string) { t[k] = s }, out)
		}
	case []interface{}:
		for i, e := range t {
			collectStrings(e, path+"["+strconv.Itoa(i)+"]", func(s string) { t[i] = s }, out)
		}
	}
}
