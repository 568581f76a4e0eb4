package config

import "os"

// ExpandEnv expands ${VAR}/$VAR references in YAML content before parsing,
// expanding environment references before the YAML is parsed. Missing variables expand to the
// empty string; Validate is expected to catch any field left empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}
