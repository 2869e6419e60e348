package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// markerPattern matches the plugin-marker line a TSG document carries when
// it has associated plugins: <!-- TSG_PLUGINS:<tsg_name> -->
var markerPattern = regexp.MustCompile(`<!--\s*TSG_PLUGINS:([^>]+?)\s*-->`)

// MarkerName extracts the TSG name from a plugin-marker line in the TSG
// content. Absence means the TSG has no plugins to pre-load.
func MarkerName(tsgContent string) (string, bool) {
	m := markerPattern.FindStringSubmatch(tsgContent)
	if m == nil {
		return "", false
	}
	name := strings.TrimSpace(m[1])
	if name == "" {
		return "", false
	}
	return name, true
}

// LoadDir reads every plugin definition under <baseDir>/<tsgName>/*.yaml,
// sorted by filename so plugin_1 precedes plugin_2.
func LoadDir(baseDir, tsgName string) ([]Definition, error) {
	dir := filepath.Join(baseDir, tsgName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugin dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext := filepath.Ext(entry.Name()); ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read plugin %s: %w", name, err)
		}
		var def Definition
		if err := yaml.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("decode plugin %s: %w", name, err)
		}
		if def.PluginID == "" {
			return nil, fmt.Errorf("plugin %s has no plugin_id", name)
		}
		if def.Template == "" {
			return nil, fmt.Errorf("plugin %s has no template", name)
		}
		defs = append(defs, def)
	}
	return defs, nil
}
