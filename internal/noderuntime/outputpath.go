package noderuntime

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/expr-lang/expr"
)

// OutputConfig is the recognized output-config option set (§4.2.3), all
// optional. outputFilename and pathMapping may be either a literal string
// or a Hook evaluated against {path}.
type OutputConfig struct {
	OutputDir         string
	FlattenToBasename bool
	StripPathPrefix   string
	PathMapping       any // string or Hook
	OutputFilename    any // string or Hook
	Extension         string
	FilenameSuffix    string
}

// ParseOutputConfig reads the recognized keys out of a raw config map,
// leaving anything else ignored.
func ParseOutputConfig(raw map[string]any) OutputConfig {
	var oc OutputConfig
	if v, ok := raw["outputDir"].(string); ok {
		oc.OutputDir = v
	}
	if v, ok := raw["flattenToBasename"].(bool); ok {
		oc.FlattenToBasename = v
	}
	if v, ok := raw["stripPathPrefix"].(string); ok {
		oc.StripPathPrefix = v
	}
	if v, ok := raw["pathMapping"]; ok {
		oc.PathMapping = v
	}
	if v, ok := raw["outputFilename"]; ok {
		oc.OutputFilename = v
	}
	if v, ok := raw["extension"].(string); ok {
		oc.Extension = v
	}
	if v, ok := raw["filenameSuffix"].(string); ok {
		oc.FilenameSuffix = v
	}
	return oc
}

// CleanInputPath implements §4.2.3's "cleaned input path": strip
// "<buildDir>/<someNode>/" if path lies inside buildDir, otherwise make
// it relative to the working directory.
func CleanInputPath(path, buildDir, workingDir string) string {
	path = filepath.ToSlash(path)
	bd := filepath.ToSlash(buildDir)
	if bd != "" && strings.HasPrefix(path, bd+"/") {
		rest := strings.TrimPrefix(path, bd+"/")
		if idx := strings.Index(rest, "/"); idx >= 0 {
			return rest[idx+1:]
		}
		return rest
	}
	if rel, err := filepath.Rel(workingDir, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

// ShapeOutputPath applies the output-config transforms to one cleaned
// input path, producing the final path under oc's effective base dir
// (oc.OutputDir if set, else defaultBaseDir).
func ShapeOutputPath(oc OutputConfig, cleanedInputPath, defaultBaseDir string) (string, error) {
	baseDir := oc.OutputDir
	if baseDir == "" {
		baseDir = defaultBaseDir
	}

	rel := cleanedInputPath
	switch {
	case oc.FlattenToBasename:
		rel = filepath.Base(cleanedInputPath)
	case oc.StripPathPrefix != "":
		rel = stripPrefixSegmentwise(cleanedInputPath, oc.StripPathPrefix)
	case oc.PathMapping != nil:
		mapped, err := evalPathTransform(oc.PathMapping, cleanedInputPath)
		if err != nil {
			return "", fmt.Errorf("noderuntime: pathMapping: %w", err)
		}
		rel = mapped
	}

	dir, file := filepath.Split(rel)
	ext := filepath.Ext(file)
	base := strings.TrimSuffix(file, ext)

	switch {
	case oc.OutputFilename != nil:
		name, err := evalPathTransform(oc.OutputFilename, cleanedInputPath)
		if err != nil {
			return "", fmt.Errorf("noderuntime: outputFilename: %w", err)
		}
		file = name
	default:
		if oc.Extension != "" {
			ext = oc.Extension
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
		}
		if oc.FilenameSuffix != "" {
			base = base + oc.FilenameSuffix
		}
		file = base + ext
	}

	return filepath.Join(baseDir, dir, file), nil
}

func stripPrefixSegmentwise(path, prefix string) string {
	pathSegs := strings.Split(strings.Trim(path, "/"), "/")
	prefixSegs := strings.Split(strings.Trim(prefix, "/"), "/")
	if len(prefixSegs) > len(pathSegs) {
		return path
	}
	for i, seg := range prefixSegs {
		if pathSegs[i] != seg {
			return path
		}
	}
	return strings.Join(pathSegs[len(prefixSegs):], "/")
}

// evalPathTransform resolves either a literal string or a Hook (an
// expr-lang expression evaluated against {path}) to a concrete string.
func evalPathTransform(v any, path string) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case Hook:
		program, err := expr.Compile(t.Expr, expr.Env(map[string]any{"path": path}))
		if err != nil {
			return "", fmt.Errorf("compiling hook %q: %w", t.Identifier, err)
		}
		out, err := expr.Run(program, map[string]any{"path": path})
		if err != nil {
			return "", fmt.Errorf("evaluating hook %q: %w", t.Identifier, err)
		}
		s, ok := out.(string)
		if !ok {
			return "", fmt.Errorf("hook %q did not evaluate to a string", t.Identifier)
		}
		return s, nil
	default:
		return "", fmt.Errorf("unsupported transform value %T", v)
	}
}

// RebaseUnderNewBase takes a cached path's relative position under
// oldBase and rebases it onto newBase, rejecting any ".." escape.
func RebaseUnderNewBase(cachedPath, oldBase, newBase string) (string, error) {
	rel, err := filepath.Rel(oldBase, cachedPath)
	if err != nil {
		return "", fmt.Errorf("noderuntime: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("noderuntime: filesystem escape: rebasing %q under %q would require a '..' segment", cachedPath, newBase)
	}
	return filepath.Join(newBase, rel), nil
}
