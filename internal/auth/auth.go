package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const (
	configDirName = ".config"
	appDirName    = "hexstrike"
	authFileName  = "auth.json"
)

// AuthData is the CLI's saved session: which daemon it talks to and the
// bearer token it presents.
type AuthData struct {
	Server   string `json:"server"`
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
}

func getAuthFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDirName, appDirName, authFileName), nil
}

func SaveAuth(data AuthData) error {
	path, err := getAuthFilePath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func LoadAuth() (*AuthData, error) {
	path, err := getAuthFilePath()
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No auth file, not an error
		}
		return nil, err
	}
	defer file.Close()

	var data AuthData
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

func Logout() error {
	path, err := getAuthFilePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
