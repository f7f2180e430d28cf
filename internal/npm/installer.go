package npm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/webnode/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webnode/internal/shared/id"
	"github.com/GriffinCanCode/webnode/internal/vfs"
)

const (
	modulesRoot = "/node_modules"
	binDir      = "/node_modules/.bin"

	defaultConcurrency = 8
)

// Config configures an Installer.
type Config struct {
	Registry Registry
	// Transformer lowers ESM sources at install time. Optional; when
	// nil, files are written as published.
	Transformer Transformer
	Logger      *logging.Logger
	// OnProgress receives phase updates. Optional.
	OnProgress func(Progress)
	// Concurrency bounds parallel tarball downloads.
	Concurrency int
}

// Installer resolves dependency graphs and writes packages into the
// virtual filesystem.
type Installer struct {
	fs          *vfs.FS
	registry    Registry
	transformer Transformer
	log         *logging.Logger
	onProgress  func(Progress)
	concurrency int
}

// NewInstaller creates an installer over fsys.
func NewInstaller(fsys *vfs.FS, cfg Config) *Installer {
	log := cfg.Logger
	if log == nil {
		log = logging.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Installer{
		fs:          fsys,
		registry:    cfg.Registry,
		transformer: cfg.Transformer,
		log:         log.Named("installer"),
		onProgress:  cfg.OnProgress,
		concurrency: concurrency,
	}
}

// Result summarizes one install call.
type Result struct {
	ID       id.InstallID       `json:"id"`
	Packages []InstalledPackage `json:"packages"`
}

type resolvedPkg struct {
	name    string
	version string
	meta    VersionMetadata
	reused  bool
}

// Install resolves name@rng and its transitive dependencies and writes
// them flat under /node_modules. An empty or "latest" range picks the
// latest dist-tag. The first failure aborts the install; files already
// written stay in place.
func (in *Installer) Install(ctx context.Context, name, rng string) (*Result, error) {
	result := &Result{ID: id.NewInstallID()}
	in.log.Info("Install starting",
		zap.String("install_id", result.ID.String()),
		zap.String("package", name),
		zap.String("range", rng))

	picked, err := in.resolveGraph(ctx, name, rng)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(picked))
	for n := range picked {
		names = append(names, n)
	}
	sort.Strings(names)

	tarballs, err := in.downloadAll(ctx, picked, names)
	if err != nil {
		return nil, err
	}

	for _, n := range names {
		pkg := picked[n]
		if pkg.reused {
			result.Packages = append(result.Packages, InstalledPackage{
				Name: pkg.name, Version: pkg.version, Reused: true,
			})
			continue
		}
		in.progress(Progress{Phase: PhaseWrite, Package: pkg.name, Version: pkg.version, Total: len(picked)})
		written, err := in.writePackage(pkg, tarballs[n])
		if err != nil {
			return nil, &InstallError{Package: pkg.name, Range: pkg.version, Err: err}
		}
		result.Packages = append(result.Packages, InstalledPackage{
			Name: pkg.name, Version: pkg.version, Files: written,
		})
	}

	in.progress(Progress{Phase: PhaseDone, Total: len(picked)})
	in.log.Info("Install complete",
		zap.String("install_id", result.ID.String()),
		zap.Int("packages", len(result.Packages)))
	return result, nil
}

type request struct {
	name string
	rng  string
}

// resolveGraph walks the dependency graph breadth-first. The layout is
// flat, so the first version picked for a name wins; later ranges that
// the pick does not satisfy are logged and kept at the picked version.
func (in *Installer) resolveGraph(ctx context.Context, name, rng string) (map[string]*resolvedPkg, error) {
	picked := make(map[string]*resolvedPkg)
	queue := []request{{name: name, rng: rng}}

	for len(queue) > 0 {
		req := queue[0]
		queue = queue[1:]

		if prior, ok := picked[req.name]; ok {
			if !rangeSatisfied(prior.version, req.rng) {
				in.log.Warn("Version conflict flattened",
					zap.String("package", req.name),
					zap.String("picked", prior.version),
					zap.String("wanted", req.rng))
			}
			continue
		}

		if installed, deps, ok := in.installedVersion(req.name); ok && rangeSatisfied(installed, req.rng) {
			picked[req.name] = &resolvedPkg{name: req.name, version: installed, reused: true}
			for depName, depRange := range deps {
				queue = append(queue, request{name: depName, rng: depRange})
			}
			continue
		}

		meta, err := in.registry.Metadata(ctx, req.name)
		if err != nil {
			return nil, &InstallError{Package: req.name, Range: req.rng, Err: err}
		}
		version, vm, err := pickVersion(meta, req.rng)
		if err != nil {
			return nil, &InstallError{Package: req.name, Range: req.rng, Err: err}
		}
		picked[req.name] = &resolvedPkg{name: req.name, version: version, meta: vm}
		in.progress(Progress{Phase: PhaseResolve, Package: req.name, Version: version})

		for depName, depRange := range vm.Dependencies {
			queue = append(queue, request{name: depName, rng: depRange})
		}
	}
	return picked, nil
}

// downloadAll fetches tarballs for every non-reused package in
// parallel, bounded by the configured concurrency.
func (in *Installer) downloadAll(ctx context.Context, picked map[string]*resolvedPkg, names []string) (map[string][]byte, error) {
	tarballs := make(map[string][]byte, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.concurrency)
	for _, n := range names {
		pkg := picked[n]
		if pkg.reused {
			continue
		}
		g.Go(func() error {
			in.progress(Progress{Phase: PhaseDownload, Package: pkg.name, Version: pkg.version, Total: len(picked)})
			data, err := in.registry.Download(gctx, pkg.meta.Dist.Tarball)
			if err != nil {
				return &InstallError{Package: pkg.name, Range: pkg.version, Err: err}
			}
			mu.Lock()
			tarballs[pkg.name] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tarballs, nil
}

// writePackage extracts one tarball under /node_modules/<name>,
// lowering ESM sources on the way, and links bin stubs.
func (in *Installer) writePackage(pkg *resolvedPkg, tarball []byte) (int, error) {
	files, err := extractTarball(tarball)
	if err != nil {
		return 0, err
	}

	root := vfs.Join(modulesRoot, pkg.name)
	written := 0
	for rel, content := range files {
		if in.transformer != nil && isScript(rel) {
			lowered, err := in.transformer.Transform(string(content), vfs.Join(root, rel))
			if err != nil {
				return written, fmt.Errorf("transform %s: %w", rel, err)
			}
			content = []byte(lowered)
		}
		if err := in.fs.WriteFile(vfs.Join(root, rel), content); err != nil {
			return written, err
		}
		written++
	}

	if _, ok := files["package.json"]; !ok {
		manifest, err := sonic.Marshal(map[string]interface{}{
			"name":         pkg.name,
			"version":      pkg.version,
			"main":         pkg.meta.Main,
			"dependencies": pkg.meta.Dependencies,
		})
		if err != nil {
			return written, err
		}
		if err := in.fs.WriteFile(vfs.Join(root, "package.json"), manifest); err != nil {
			return written, err
		}
		written++
	}

	for cmd, script := range pkg.meta.BinEntries() {
		target := vfs.Join(root, strings.TrimPrefix(script, "./"))
		stub := fmt.Sprintf("#!/bin/sh\nexec node %q \"$@\"\n", target)
		if err := in.fs.WriteFile(vfs.Join(binDir, cmd), []byte(stub)); err != nil {
			return written, err
		}
		written++
	}

	in.log.Debug("Package written",
		zap.String("package", pkg.name),
		zap.String("version", pkg.version),
		zap.Int("files", written))
	return written, nil
}

// installedVersion reads the manifest of an already-installed package.
func (in *Installer) installedVersion(name string) (version string, deps map[string]string, ok bool) {
	content, err := in.fs.ReadFile(vfs.Join(modulesRoot, name, "package.json"))
	if err != nil {
		return "", nil, false
	}
	var manifest struct {
		Version      string            `json:"version"`
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := sonic.Unmarshal(content, &manifest); err != nil || manifest.Version == "" {
		return "", nil, false
	}
	return manifest.Version, manifest.Dependencies, true
}

func (in *Installer) progress(p Progress) {
	if in.onProgress != nil {
		in.onProgress(p)
	}
}

// pickVersion selects the highest version satisfying rng. An empty or
// "latest" range takes the latest dist-tag when present.
func pickVersion(meta *PackageMetadata, rng string) (string, VersionMetadata, error) {
	if rng == "" || rng == "latest" {
		if tag, ok := meta.DistTags["latest"]; ok {
			if vm, ok := meta.Versions[tag]; ok {
				return tag, vm, nil
			}
		}
		rng = "*"
	}

	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return "", VersionMetadata{}, fmt.Errorf("invalid version range '%s': %w", rng, err)
	}

	var best *semver.Version
	bestRaw := ""
	for raw := range meta.Versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if !constraint.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestRaw = raw
		}
	}
	if best == nil {
		return "", VersionMetadata{}, fmt.Errorf("no version satisfying '%s' (have %d versions)", rng, len(meta.Versions))
	}
	return bestRaw, meta.Versions[bestRaw], nil
}

// rangeSatisfied reports whether version satisfies rng, treating empty
// and "latest" ranges as satisfied by anything.
func rangeSatisfied(version, rng string) bool {
	if rng == "" || rng == "latest" || rng == "*" {
		return true
	}
	constraint, err := semver.NewConstraint(rng)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return constraint.Check(v)
}

// isScript reports whether rel is a JavaScript source the transformer
// should see.
func isScript(rel string) bool {
	return strings.HasSuffix(rel, ".js") ||
		strings.HasSuffix(rel, ".mjs") ||
		strings.HasSuffix(rel, ".cjs")
}
