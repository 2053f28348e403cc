// Package confstack loads layered YAML configuration. A base file, an
// environment file and an optional local override are read from one
// directory and deep-merged with precedence base < environment < local.
// Nested mappings merge key by key; every other value, sequences included,
// is replaced by the higher layer. Documents are parsed strictly: a key
// repeated within one mapping is an error rather than last-wins.
//
// Validate performs light structural checks on the merged result. It is not
// a schema validator.
package confstack
