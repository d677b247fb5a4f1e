package entityschema

import _ "embed"

//go:embed default.yaml
var defaultSchema []byte

// Default returns the built-in registry used when no schema file is configured.
func Default() *Registry {
	r, err := Parse(defaultSchema)
	if err != nil {
		panic("entityschema: built-in schema is invalid: " + err.Error())
	}
	return r
}
