package testutil

import (
	"os"

	"github.com/spf13/viper"
)

// GetTestViper returns a fresh viper instance reading the given YAML document.
func GetTestViper(yamlConfig string) (*viper.Viper, error) {
	configFile, cleanup, err := WriteStringToTempFileWithExtension(yamlConfig, ".yaml")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

// WriteStringToTempFileWithExtension returns the file path and a cleanup function.
func WriteStringToTempFileWithExtension(content string, extension string) (string, func(), error) {
	tempFile, err := os.CreateTemp("", "temp-*"+extension)
	if err != nil {
		return "", nil, err
	}
	return finishTempFile(tempFile, content)
}

func WriteStringToTempFile(content string) (string, func(), error) {
	tempFile, err := os.CreateTemp("", "temp-*")
	if err != nil {
		return "", nil, err
	}
	return finishTempFile(tempFile, content)
}

func finishTempFile(tempFile *os.File, content string) (string, func(), error) {
	if _, err := tempFile.WriteString(content); err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return "", nil, err
	}
	tempFile.Close()

	cleanup := func() {
		os.Remove(tempFile.Name())
	}
	return tempFile.Name(), cleanup, nil
}
