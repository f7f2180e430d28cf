// Package npm installs packages from an npm-compatible registry into
// the virtual filesystem.
//
// An install resolves the dependency graph breadth-first, picking the
// highest version satisfying each semver range, downloads tarballs in
// parallel, and writes every package flat under /node_modules/<name>.
// ESM sources are lowered to CommonJS at install time so the module
// loader never pays the transform cost on first require.
//
// Layout matches what the loader's resolution walk expects:
//
//	/node_modules/<name>/package.json
//	/node_modules/<name>/...
//	/node_modules/.bin/<command>
//
// Installs are idempotent: a package already present at a satisfying
// version is left untouched. A failure aborts the install and reports
// the package that caused it; files written before the failure stay in
// place.
package npm
