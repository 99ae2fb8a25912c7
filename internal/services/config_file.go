package services

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// configFile mirrors Config with optional fields so an absent key in the
// file leaves the loaded value untouched
type configFile struct {
	Environment             string   `yaml:"environment"`
	Region                  string   `yaml:"region"`
	SubnetIDs               []string `yaml:"subnet_ids"`
	LaunchTemplateName      string   `yaml:"launch_template_name"`
	AllowedOwners           []string `yaml:"allowed_owners"`
	RollbackOnConfigFailure *bool    `yaml:"rollback_on_config_failure"`
}

// ApplyConfigFile overlays the non-empty fields of the YAML file at path onto config.
//
// Example file:
//
//	region: us-east-1
//	subnet_ids: [subnet-aaa, subnet-bbb]
//	launch_template_name: github-runner
//	allowed_owners: [acme]
func ApplyConfigFile(config *Config, path string) error {
	file, err := readConfigFile(path)
	if err != nil {
		return err
	}

	if file.Environment != "" {
		config.Environment = file.Environment
	}
	if file.Region != "" {
		config.Region = file.Region
	}
	if len(file.SubnetIDs) > 0 {
		config.SubnetIDs = file.SubnetIDs
	}
	if file.LaunchTemplateName != "" {
		config.LaunchTemplateName = file.LaunchTemplateName
	}
	if len(file.AllowedOwners) > 0 {
		config.AllowedOwners = file.AllowedOwners
	}
	if file.RollbackOnConfigFailure != nil {
		config.RollbackOnConfigFailure = *file.RollbackOnConfigFailure
	}

	return nil
}

// ConfigFileRegion returns the region named by the YAML file at path, or ""
// when the file does not set one. Every AWS client is built in this region
// when it is present.
func ConfigFileRegion(path string) (string, error) {
	file, err := readConfigFile(path)
	if err != nil {
		return "", err
	}
	return file.Region, nil
}

func readConfigFile(path string) (configFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return configFile{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return configFile{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return file, nil
}
