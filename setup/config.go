package setup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/integralist/go-findroot/find"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk description of a test environment
type Config struct {
	ProjectName       string `yaml:"project_name"`
	DockerComposePath string `yaml:"docker_compose_path"`
	LogPath           string `yaml:"log_path"`
	CollectStats      bool   `yaml:"collect_stats"`
	ReuseContainers   bool   `yaml:"reuse_containers"`
}

// LoadConfig reads a YAML config file. Relative paths in it are resolved
// against the file's directory, and a compose file that isn't found there is
// looked up in the repository root.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config %s: %w", path, err)
	}

	if cfg.ProjectName == "" {
		return nil, fmt.Errorf("config %s: project_name is required", path)
	}
	if cfg.DockerComposePath == "" {
		cfg.DockerComposePath = "docker-compose.yml"
	}
	if cfg.LogPath == "" {
		cfg.LogPath = cfg.ProjectName + ".log"
	}

	dir := filepath.Dir(path)
	cfg.LogPath = resolvePath(dir, cfg.LogPath)

	composePath := resolvePath(dir, cfg.DockerComposePath)
	if _, err := os.Stat(composePath); errors.Is(err, os.ErrNotExist) && !filepath.IsAbs(cfg.DockerComposePath) {
		if rootPath, rootErr := GetRootConfigPath(cfg.DockerComposePath); rootErr == nil {
			composePath = rootPath
		}
	}
	cfg.DockerComposePath = composePath

	return &cfg, nil
}

func resolvePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// GetRootConfigPath finds the docker-compose file in the root of the project
func GetRootConfigPath(name string) (string, error) {
	root, err := find.Repo()
	if err != nil {
		return "", err
	}

	path := filepath.Join(root.Path, name)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("file does not exist by the name: %s", name)
	}

	return path, nil
}
