package utils

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// ConfigDirName is the directory holding the gateway's credentials.
const ConfigDirName = ".codewhisperer-proxy"

// DefaultConfigDir returns the directory where credentials and the optional
// config file are kept:
//   - Windows: %APPDATA%\codewhisperer-proxy
//   - Others: ~/.codewhisperer-proxy
func DefaultConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "codewhisperer-proxy"), nil
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ConfigDirName), nil
	}
}
