// Package config loads the operator supplied access document for a
// third-party dashboard server.
//
// The document is YAML:
//
//	url: https://grafana.example.com
//	username: admin
//	password: secret
//	databases:
//	  - name: sales
//	    password: s3cret
//
// Each databases entry carries a password plus any number of datasource
// fields used to pick the datasource it belongs to.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	jujuerrors "github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"grape/internal/grafana"
)

// ExternalAccess holds the credentials of a third-party dashboard server.
type ExternalAccess struct {
	URL       string              `yaml:"url" json:"url"`
	Username  string              `yaml:"username" json:"username"`
	Password  string              `yaml:"password" json:"password"`
	Databases []map[string]string `yaml:"databases,omitempty" json:"databases,omitempty"`
}

// LoadExternalAccess reads and validates the document at path.
func LoadExternalAccess(path string) (*ExternalAccess, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("external access file %s: %w", path, jujuerrors.NotFound)
		}
		return nil, fmt.Errorf("read external access file: %w", err)
	}
	return ParseExternalAccess(data)
}

// ParseExternalAccess decodes and validates a document.
func ParseExternalAccess(data []byte) (*ExternalAccess, error) {
	var a ExternalAccess
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse external access: %w", err)
	}
	a.URL = strings.TrimRight(strings.TrimSpace(a.URL), "/")
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate requires url, username and password.
func (a ExternalAccess) Validate() error {
	var missing []string
	if a.URL == "" {
		missing = append(missing, "url")
	}
	if a.Username == "" {
		missing = append(missing, "username")
	}
	if a.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return fmt.Errorf("external access missing %s: %w", strings.Join(missing, ", "), jujuerrors.NotValid)
	}
	return nil
}

// Target returns the dashboard server the document points at.
func (a ExternalAccess) Target() grafana.Target {
	return grafana.Target{URL: a.URL, Username: a.Username, Password: a.Password}
}
