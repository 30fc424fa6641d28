package extraction

import (
	"sort"
	"strings"
)

// defaultTagRules maps a tag to the keywords that indicate it.
// Matching is case-insensitive substring search; one keyword hit tags
// the payload.
var defaultTagRules = map[string][]string{
	// Languages and toolchains
	"golang":     {".go", "go mod", "go build", "go test", "golang"},
	"python":     {".py", "pip ", "pytest", "python"},
	"typescript": {".ts", "npm ", "tsc", "typescript"},
	"rust":       {".rs", "cargo ", "rustc"},

	// Infrastructure
	"kubernetes": {"kubectl", "k8s", "helm", "kubernetes"},
	"terraform":  {".tf", "terraform", "tfstate"},
	"docker":     {"dockerfile", "docker-compose", "docker "},
	"ci":         {"pipeline", "github actions", "workflow_dispatch", "ci job"},

	// Activities
	"debugging":   {"stack trace", "panic", "segfault", "root cause", "debug"},
	"testing":     {"test", "coverage", "assert", "flaky"},
	"refactoring": {"refactor", "rename", "extract", "restructure"},
	"security":    {"credential", "secret", "token leak", "cve-", "vulnerab"},
	"performance": {"latency", "slow query", "profil", "benchmark", "cache"},

	// Surfaces
	"api":      {"endpoint", "handler", "grpc", "rest api", "http 5"},
	"database": {"sql", "migration", "postgres", "sqlite", "transaction"},
	"build":    {"compile", "linker", "dependency", "version bump"},
}

// AutoTags derives tags from a payload that was captured without any.
// The result is sorted so repeated captures of the same payload tag
// identically.
func AutoTags(payload string) []string {
	lowered := strings.ToLower(payload)
	var tags []string
	for tag, keywords := range defaultTagRules {
		for _, keyword := range keywords {
			if strings.Contains(lowered, keyword) {
				tags = append(tags, tag)
				break
			}
		}
	}
	sort.Strings(tags)
	return tags
}
