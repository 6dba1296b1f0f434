// Package pipeline implements the three-phase planner/workers/coordinator
// audit pipeline (C5) as a queue.JobExecutor. Grounded on the teacher's
// alert-processing chain (pkg/agent/controller's stage sequencing and
// pkg/queue's old executor.go), generalized from a fixed runbook-driven
// stage list to the spec's fixed three-stage shape with tier-driven
// prompts instead of per-alert-type runbooks.
package pipeline

import (
	"path"
	"sort"
	"strings"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
)

// MaxPlanningFileMapEntries bounds the planning file map per spec.md §4.5.
const MaxPlanningFileMapEntries = 100

var sourceExtensions = map[string]bool{
	".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".rb": true, ".java": true, ".kt": true, ".cs": true, ".cpp": true, ".cc": true,
	".c": true, ".h": true, ".hpp": true, ".rs": true, ".php": true, ".swift": true,
	".scala": true, ".sql": true, ".graphql": true, ".gql": true, ".vue": true,
	".svelte": true, ".sh": true, ".tf": true, ".proto": true,
}

var configBasenames = map[string]bool{
	"dockerfile": true, "docker-compose.yml": true, "docker-compose.yaml": true,
	"package.json": true, "go.mod": true, "cargo.toml": true, "gemfile": true,
	"requirements.txt": true, "pyproject.toml": true, "pom.xml": true, "build.gradle": true,
	"webpack.config.js": true, "vite.config.ts": true, "vite.config.js": true,
	"next.config.js": true, "tsconfig.json": true, "supabase.toml": true,
	"firebase.json": true, "schema.prisma": true, "drizzle.config.ts": true,
	".env.example": true,
}

var excludedDirSegments = map[string]bool{
	"node_modules": true, "vendor": true, "dist": true, "build": true,
	".git": true, "target": true, "__pycache__": true, ".next": true,
	"coverage": true, ".venv": true,
}

var excludedExtensions = map[string]bool{
	".md": true, ".lock": true, ".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".svg": true, ".ico": true, ".woff": true, ".woff2": true,
	".ttf": true, ".eot": true, ".mp4": true, ".zip": true, ".tar": true,
	".gz": true, ".pdf": true,
}

// BuildPlanningFileMap filters fullMap down to the entries worth handing to
// the planner LLM: source files, schemas, build/bundler/container/platform
// configs, minus docs/lockfiles/vendor/build-output/binary media, capped at
// MaxPlanningFileMapEntries with a representative sample kept per directory
// once the cap would otherwise be exceeded by one directory's files alone.
func BuildPlanningFileMap(fullMap []models.RepoMapEntry) []models.RepoMapEntry {
	var candidates []models.RepoMapEntry
	for _, entry := range fullMap {
		if isPlannable(entry.Path) {
			candidates = append(candidates, entry)
		}
	}

	if len(candidates) <= MaxPlanningFileMapEntries {
		return candidates
	}
	return sampleByDirectory(candidates, MaxPlanningFileMapEntries)
}

func isPlannable(filePath string) bool {
	lower := strings.ToLower(filePath)
	for _, seg := range strings.Split(lower, "/") {
		if excludedDirSegments[seg] {
			return false
		}
	}

	base := path.Base(lower)
	if configBasenames[base] {
		return true
	}

	ext := path.Ext(lower)
	if excludedExtensions[ext] {
		return false
	}
	return sourceExtensions[ext]
}

// sampleByDirectory keeps a spread of entries across directories rather
// than truncating the candidate list in file-map order, so a repo with one
// huge directory doesn't crowd out every other part of the tree.
func sampleByDirectory(candidates []models.RepoMapEntry, cap int) []models.RepoMapEntry {
	byDir := make(map[string][]models.RepoMapEntry)
	var dirs []string
	for _, c := range candidates {
		dir := path.Dir(c.Path)
		if _, ok := byDir[dir]; !ok {
			dirs = append(dirs, dir)
		}
		byDir[dir] = append(byDir[dir], c)
	}
	sort.Strings(dirs)

	var out []models.RepoMapEntry
	round := 0
	for len(out) < cap {
		added := false
		for _, dir := range dirs {
			entries := byDir[dir]
			if round >= len(entries) {
				continue
			}
			out = append(out, entries[round])
			added = true
			if len(out) >= cap {
				break
			}
		}
		if !added {
			break
		}
		round++
	}
	return out
}

// platformMarkers maps a file-name heuristic to the platform stack tag it
// implies, checked over the full (unfiltered) file map.
var platformMarkers = []struct {
	match    func(lowerPath string) bool
	platform string
}{
	{func(p string) bool { return strings.Contains(p, "supabase") }, "supabase"},
	{func(p string) bool { return strings.Contains(p, "firebase") }, "firebase"},
	{func(p string) bool { return strings.HasSuffix(p, "schema.prisma") }, "prisma"},
	{func(p string) bool { return strings.Contains(p, "drizzle") }, "drizzle"},
	{func(p string) bool { return strings.HasSuffix(p, ".graphql") || strings.HasSuffix(p, ".gql") }, "graphql"},
	{func(p string) bool { return strings.HasSuffix(p, "dockerfile") || strings.Contains(p, "docker-compose") }, "docker"},
	{func(p string) bool { return strings.Contains(p, "/k8s/") || strings.Contains(p, "kubernetes") }, "kubernetes"},
	{func(p string) bool { return strings.HasSuffix(p, "vercel.json") }, "vercel"},
	{func(p string) bool { return strings.HasSuffix(p, "netlify.toml") }, "netlify"},
	{func(p string) bool { return strings.Contains(p, "terraform") || strings.HasSuffix(p, ".tf") }, "terraform"},
}

// DetectPlatformStack scans the full (unfiltered) file map for known
// platform/framework marker files, per spec.md §4.5's "by file-name
// heuristics over the full map" instruction.
func DetectPlatformStack(fullMap []models.RepoMapEntry) []string {
	seen := make(map[string]bool)
	var stack []string
	for _, entry := range fullMap {
		lower := strings.ToLower(entry.Path)
		for _, marker := range platformMarkers {
			if !seen[marker.platform] && marker.match(lower) {
				seen[marker.platform] = true
				stack = append(stack, marker.platform)
			}
		}
	}
	sort.Strings(stack)
	return stack
}
