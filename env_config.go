// env_config.go: Environment variable expansion and overrides for client configuration
//
// Configuration strings may reference the environment with ${VAR} or
// ${VAR:-default}. A few well-known variables override file values outright so
// that tooling can point a UI at a different dev server without editing files.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Environment variables recognised by ApplyEnvironmentOverrides.
const (
	EnvEndpoint       = "WAVECRAFT_WS_URL"
	EnvTransport      = "WAVECRAFT_TRANSPORT"
	EnvRequestTimeout = "WAVECRAFT_REQUEST_TIMEOUT"
	EnvConnectTimeout = "WAVECRAFT_CONNECT_TIMEOUT"
	EnvFetchRetries   = "WAVECRAFT_FETCH_RETRIES"
)

// EnvConfigOptions configures environment variable processing.
type EnvConfigOptions struct {
	// Prefix is tried before the bare name when expanding ${VAR}.
	Prefix string `json:"prefix" yaml:"prefix"`

	// FailOnMissing turns an unresolved ${VAR} into an error.
	FailOnMissing bool `json:"fail_on_missing" yaml:"fail_on_missing"`

	// ValidateValues rejects values with control characters or excessive length.
	ValidateValues bool `json:"validate_values" yaml:"validate_values"`

	// AllowOverrides enables ApplyEnvironmentOverrides.
	AllowOverrides bool `json:"allow_overrides" yaml:"allow_overrides"`

	// Defaults for variables missing from the environment.
	Defaults map[string]string `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// Lookup replaces os.LookupEnv, mostly for tests.
	Lookup func(key string) (string, bool) `json:"-" yaml:"-"`
}

// DefaultEnvConfigOptions returns the options used by LoadConfigFromFile.
func DefaultEnvConfigOptions() EnvConfigOptions {
	return EnvConfigOptions{
		Prefix:         "WAVECRAFT_",
		FailOnMissing:  false,
		ValidateValues: true,
		AllowOverrides: true,
		Defaults:       make(map[string]string),
	}
}

func (o EnvConfigOptions) lookup(key string) (string, bool) {
	if o.Lookup != nil {
		return o.Lookup(key)
	}
	return os.LookupEnv(key)
}

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvironmentVariables replaces ${VAR} and ${VAR:-default} in input.
//
// Resolution order: prefixed variable, bare variable, inline default, options
// default. A variable that resolves nowhere expands to the empty string unless
// FailOnMissing is set.
func ExpandEnvironmentVariables(input string, options EnvConfigOptions) (string, error) {
	if input == "" || !strings.Contains(input, "${") {
		return input, nil
	}

	var firstErr error
	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		submatches := variablePattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}
		inlineDefault := ""
		if len(submatches) >= 4 {
			inlineDefault = submatches[3]
		}
		expanded, err := expandSingleEnvironmentVariable(submatches[1], inlineDefault, options)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return expanded
	})
	if firstErr != nil {
		return input, firstErr
	}
	return result, nil
}

func expandSingleEnvironmentVariable(varName, inlineDefault string, options EnvConfigOptions) (string, error) {
	prefixedName := options.Prefix + varName
	if options.Prefix != "" && !strings.HasPrefix(varName, options.Prefix) {
		if value, ok := options.lookup(prefixedName); ok && value != "" {
			return validateAndSanitizeValue(value, options)
		}
	}
	if value, ok := options.lookup(varName); ok && value != "" {
		return validateAndSanitizeValue(value, options)
	}
	if inlineDefault != "" {
		return validateAndSanitizeValue(inlineDefault, options)
	}
	if value, ok := options.Defaults[varName]; ok {
		return validateAndSanitizeValue(value, options)
	}
	if options.FailOnMissing {
		return "", NewConfigValidationError(fmt.Sprintf("required environment variable not found: %s", varName), nil)
	}
	return "", nil
}

// validateAndSanitizeValue rejects null bytes, control characters and oversized values.
func validateAndSanitizeValue(value string, options EnvConfigOptions) (string, error) {
	if !options.ValidateValues {
		return value, nil
	}
	if strings.Contains(value, "\x00") {
		return "", NewConfigValidationError("environment variable value contains null byte", nil)
	}
	const maxLength = 4096
	if len(value) > maxLength {
		return "", NewConfigValidationError(fmt.Sprintf("environment variable value too long: %d bytes (max %d)", len(value), maxLength), nil)
	}
	for i, r := range value {
		if r < 32 && r != '\t' {
			return "", NewConfigValidationError(fmt.Sprintf("environment variable contains control character at position %d", i), nil)
		}
	}
	return value, nil
}

// ProcessConfigurationWithEnv expands ${VAR} references in the string fields of config.
func ProcessConfigurationWithEnv(config *ClientConfig, options EnvConfigOptions) error {
	endpoint, err := ExpandEnvironmentVariables(config.Endpoint, options)
	if err != nil {
		return NewConfigValidationError("failed to expand endpoint", err)
	}
	config.Endpoint = endpoint

	transport, err := ExpandEnvironmentVariables(string(config.Transport), options)
	if err != nil {
		return NewConfigValidationError("failed to expand transport", err)
	}
	config.Transport = TransportKind(transport)
	return nil
}

// ApplyEnvironmentOverrides lets well-known variables win over file values.
func ApplyEnvironmentOverrides(config *ClientConfig, options EnvConfigOptions) error {
	if !options.AllowOverrides {
		return nil
	}

	if value, ok := options.lookup(EnvEndpoint); ok && value != "" {
		clean, err := validateAndSanitizeValue(value, options)
		if err != nil {
			return err
		}
		config.Endpoint = clean
	}
	if value, ok := options.lookup(EnvTransport); ok && value != "" {
		config.Transport = TransportKind(strings.ToLower(strings.TrimSpace(value)))
	}
	if err := overrideDuration(options, EnvRequestTimeout, &config.RequestTimeout); err != nil {
		return err
	}
	if err := overrideDuration(options, EnvConnectTimeout, &config.ConnectTimeout); err != nil {
		return err
	}
	if value, ok := options.lookup(EnvFetchRetries); ok && value != "" {
		retries, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return NewConfigValidationError(EnvFetchRetries+" must be an integer", err)
		}
		config.Fetch.Retries = retries
	}
	return nil
}

func overrideDuration(options EnvConfigOptions, key string, field *Duration) error {
	value, ok := options.lookup(key)
	if !ok || value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return NewConfigValidationError(key+" must be a duration such as 5s", err)
	}
	*field = Duration(parsed)
	return nil
}
