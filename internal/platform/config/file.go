package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ReadYAML decodes the YAML file at path into dst
// Unknown keys are rejected so typos in catalogs fail loudly
func ReadYAML(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return DecodeYAML(data, dst)
}

// DecodeYAML decodes YAML bytes into dst with strict field checking
// An empty document leaves dst untouched
func DecodeYAML(data []byte, dst any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
