// pkg/manifest/manifest.go
package manifest

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level gate manifest: which admin routes the gate fronts
// and what each route requires before traffic reaches the upstream.
type Config struct {
	Listen    string  `toml:"listen"`     // overridden by SERVER_LISTEN_ADDRESS
	LoginPath string  `toml:"login_path"` // where browser navigations land on auth failure
	Routes    []Route `toml:"route"`
}

// Route fronts one upstream path prefix.
type Route struct {
	Path      string     `toml:"path"`
	Upstream  string     `toml:"upstream"`
	Guard     Guard      `toml:"guard"`
	RateLimit *RateLimit `toml:"rate_limit"`
}

type Guard struct {
	RequireAuth bool     `toml:"require_auth"`
	CSRF        bool     `toml:"csrf"`
	Roles       []string `toml:"roles"`
}

type RateLimit struct {
	Max           int `toml:"max"`
	WindowSeconds int `toml:"window_seconds"`
}

// Load reads, parses, and validates a manifest file.
func Load(p string) (Config, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Routes) == 0 {
		return errors.New("no routes defined")
	}
	if c.LoginPath == "" {
		c.LoginPath = "/admin/login"
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		return fmt.Errorf("login_path %q must be absolute", c.LoginPath)
	}
	seen := map[string]struct{}{}
	for i := range c.Routes {
		if err := c.Routes[i].normalize(); err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}
		if err := c.Routes[i].validate(); err != nil {
			return fmt.Errorf("route %d (%s): %w", i, c.Routes[i].Path, err)
		}
		if _, dup := seen[c.Routes[i].Path]; dup {
			return fmt.Errorf("route %d: duplicate path %q", i, c.Routes[i].Path)
		}
		seen[c.Routes[i].Path] = struct{}{}
	}
	return nil
}

func (r *Route) normalize() error {
	if r.Path == "" {
		return errors.New("path is required")
	}
	if !strings.HasPrefix(r.Path, "/") {
		r.Path = "/" + r.Path
	}
	if r.Path != "/" && !strings.HasSuffix(r.Path, "/*") {
		r.Path = path.Clean(r.Path)
	}
	return nil
}

func (r *Route) validate() error {
	if strings.TrimSpace(r.Upstream) == "" {
		return errors.New("upstream is required")
	}
	u, err := url.Parse(r.Upstream)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream %q is not an absolute URL", r.Upstream)
	}
	if rl := r.RateLimit; rl != nil {
		if rl.Max < 0 || rl.WindowSeconds < 0 {
			return errors.New("rate_limit values must be >= 0")
		}
	}
	return nil
}
