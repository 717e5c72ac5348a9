package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// APIKeyEnv is the environment variable holding the store credential.
const APIKeyEnv = "FILECAST_API_KEY"

var errNoAPIKey = errors.New("no API key: pass --key-file or set " + APIKeyEnv)

// resolveAPIKey returns the credential. A key file beats the configured
// value, which already reflects FILECAST_API_KEY.
func resolveAPIKey(keyFile, configured string) (string, error) {
	if keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return "", fmt.Errorf("read key file: %w", err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("key file %s is empty", keyFile)
		}
		return key, nil
	}
	if key := strings.TrimSpace(configured); key != "" {
		return key, nil
	}
	return "", errNoAPIKey
}
