package ingest

import (
	"embed"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed config/portal.yaml
var portalYAML embed.FS

// Registry describes the portal's endpoints and the response shapes they are known to use.
type Registry struct {
	Portal   PortalConfig   `yaml:"portal"`
	Listings ListingsConfig `yaml:"listings"`
	Detail   DetailConfig   `yaml:"detail"`
	Links    LinksConfig    `yaml:"links"`
}

type PortalConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

type ListingsConfig struct {
	Openings  ListingConfig `yaml:"openings"`
	Bulletins ListingConfig `yaml:"bulletins"`
}

// ListingConfig is one paginated POST listing endpoint.
type ListingConfig struct {
	URL       string   `yaml:"url"`
	PageIndex int      `yaml:"page_index"`
	PageSize  int      `yaml:"page_size"`
	ClassID   string   `yaml:"class_id,omitempty"`
	ItemPaths []string `yaml:"item_paths"`
}

// DetailConfig drives the detail fetch and the ordered content resolver.
type DetailConfig struct {
	ProjectURL     string   `yaml:"project_url"`
	ProjectParam   string   `yaml:"project_param"`
	BulletinURL    string   `yaml:"bulletin_url"`
	BulletinField  string   `yaml:"bulletin_field"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	KeyPaths       []string `yaml:"key_paths"`
	Keywords       []string `yaml:"keywords"`
}

// LinksConfig holds public detail-page templates with {bulletinId}/{prjId} placeholders.
type LinksConfig struct {
	Bulletin string `yaml:"bulletin"`
	Project  string `yaml:"project"`
}

// LoadRegistry reads the embedded portal.yaml, or path when it is non-empty,
// expanding ${VAR} references from the environment.
func LoadRegistry(path string) (*Registry, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = portalYAML.ReadFile("config/portal.yaml")
	}
	if err != nil {
		return nil, fmt.Errorf("read portal registry: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("parse portal registry: %w", err)
	}
	if reg.Detail.TimeoutSeconds <= 0 {
		reg.Detail.TimeoutSeconds = 20
	}
	if reg.Detail.ProjectParam == "" {
		reg.Detail.ProjectParam = "prjId"
	}
	if reg.Detail.BulletinField == "" {
		reg.Detail.BulletinField = "bulletinId"
	}
	return &reg, nil
}

// BulletinLink renders the public detail URL for a bulletin id, or nil without an id.
func (l LinksConfig) BulletinLink(bulletinID string) *string {
	if bulletinID == "" || l.Bulletin == "" {
		return nil
	}
	out := strings.ReplaceAll(l.Bulletin, "{bulletinId}", url.QueryEscape(bulletinID))
	return &out
}

// ProjectLink prefers the project-id link and falls back to the bulletin link.
func (l LinksConfig) ProjectLink(prjID, bulletinID string) *string {
	if prjID != "" && l.Project != "" {
		out := strings.ReplaceAll(l.Project, "{prjId}", url.QueryEscape(prjID))
		return &out
	}
	return l.BulletinLink(bulletinID)
}
