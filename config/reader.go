package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"go.viam.com/depthcapture/logging"
)

// Read reads a config from the given file. Environment variables in the file are expanded. The
// file may be JSON5, so comments, trailing commas and unquoted keys are allowed.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	if buf, err = normalizeJSON5(buf); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %q", filePath)
	}
	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// normalizeJSON5 rewrites a JSON5 document as plain JSON so it can be decoded strictly.
func normalizeJSON5(buf []byte) ([]byte, error) {
	var doc interface{}
	if err := json5.Unmarshal(buf, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file
// the reader originated from. Defaults are filled in and the result is validated.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := Config{ConfigFilePath: originalPath}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config from json")
	}
	return process(&cfg, logger)
}

// FromAttributes decodes a config from a generic attribute map, as produced by decoding JSON or
// YAML into a map.
func FromAttributes(attributes map[string]interface{}, logger logging.Logger) (*Config, error) {
	var cfg Config
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from attributes")
	}
	if len(md.Unused) > 0 {
		logger.Warnw("ignoring unknown config attributes", "attributes", md.Unused)
	}
	return process(&cfg, logger)
}

func process(cfg *Config, logger logging.Logger) (*Config, error) {
	cfg.FillDefaults()
	if _, err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	logger.Debugw("config loaded", "path", cfg.ConfigFilePath, "source", cfg.Source.Type)
	return cfg, nil
}
