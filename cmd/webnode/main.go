package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webnode/internal/devserver"
	"github.com/GriffinCanCode/webnode/internal/infrastructure/config"
	"github.com/GriffinCanCode/webnode/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webnode/internal/npm"
	"github.com/GriffinCanCode/webnode/internal/runtime"
	"github.com/GriffinCanCode/webnode/internal/transform"
	"github.com/GriffinCanCode/webnode/internal/vfs"
)

var builtinNames = []string{"fs", "path", "os", "process", "buffer", "events", "util"}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "webnode",
		Short:        "webnode runs Node-style JavaScript over a virtual filesystem",
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newServeCmd(&verbose))
	root.AddCommand(newRunCmd())
	root.AddCommand(newInstallCmd(&verbose))
	root.AddCommand(newReplCmd())
	return root
}

func newLogger(verbose bool) *logging.Logger {
	if verbose {
		return logging.NewDevelopment()
	}
	return logging.NewDefault()
}

func newServeCmd(verbose *bool) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the development server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOrDefault()
			if port != "" {
				cfg.Server.Port = port
			}
			log := newLogger(*verbose)
			defer log.Sync()

			srv := devserver.NewServer(cfg, devserver.Options{Logger: log})
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <entry.js>",
		Short: "Load a directory into the virtual filesystem and run an entry module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			root := filepath.Dir(entry)

			fsys := vfs.New()
			if err := importTree(fsys, root, "/"); err != nil {
				return err
			}

			loader := runtime.New(fsys, runtime.Config{
				Transformer: transform.NewLowerer(builtinNames),
				Console: func(level, message string) {
					if level == "error" || level == "warn" {
						fmt.Fprintln(os.Stderr, message)
						return
					}
					fmt.Println(message)
				},
			})

			_, err = loader.RunFile("/" + filepath.Base(entry))
			return err
		},
	}
}

func newInstallCmd(verbose *bool) *cobra.Command {
	var registryURL string

	cmd := &cobra.Command{
		Use:   "install <package[@range]>",
		Short: "Resolve a package graph against the registry and report the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, rng := splitSpec(args[0])
			cfg := config.LoadOrDefault()
			if registryURL != "" {
				cfg.Registry.URL = registryURL
			}
			log := newLogger(*verbose)
			defer log.Sync()

			client := npm.NewClient(npm.ClientConfig{
				BaseURL:           cfg.Registry.URL,
				Timeout:           cfg.Registry.Timeout,
				RetryMax:          cfg.Registry.RetryMax,
				RequestsPerSecond: cfg.Registry.RequestsPerSecond,
				Burst:             cfg.Registry.Burst,
				UserAgent:         "webnode/1.0",
			}, log)

			installer := npm.NewInstaller(vfs.New(), npm.Config{
				Registry:    client,
				Transformer: transform.NewLowerer(builtinNames),
				Logger:      log,
				OnProgress: func(p npm.Progress) {
					if p.Package != "" {
						fmt.Printf("%-9s %s@%s\n", p.Phase, p.Package, p.Version)
					}
				},
			})

			result, err := installer.Install(cmd.Context(), name, rng)
			if err != nil {
				return err
			}
			log.Info("Installed", zap.Int("packages", len(result.Packages)))
			for _, pkg := range result.Packages {
				fmt.Printf("+ %s@%s (%d files)\n", pkg.Name, pkg.Version, pkg.Files)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&registryURL, "registry", "", "registry base URL (overrides REGISTRY_URL)")
	return cmd
}

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive evaluation session",
		RunE: func(cmd *cobra.Command, args []string) error {
			session := runtime.NewSession(vfs.New(), runtime.Config{
				Transformer: transform.NewLowerer(builtinNames),
				Console: func(level, message string) {
					fmt.Println(message)
				},
			})
			fmt.Printf("webnode repl (%s), ctrl-d to exit\n", session.ID.String())

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					fmt.Println()
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				val, err := session.Eval(line)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				if val != nil {
					fmt.Printf("%v\n", val)
				}
			}
		},
	}
}

// importTree copies a host directory into the virtual filesystem.
func importTree(fsys *vfs.FS, hostRoot, vfsRoot string) error {
	return filepath.WalkDir(hostRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(hostRoot, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := vfs.Join(vfsRoot, filepath.ToSlash(rel))
		if d.IsDir() {
			return fsys.Mkdir(target, true)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return fsys.WriteFile(target, content)
	})
}

// splitSpec separates "name@range", keeping the scope marker intact.
func splitSpec(spec string) (name, rng string) {
	idx := strings.LastIndex(spec, "@")
	if idx <= 0 {
		return spec, ""
	}
	return spec[:idx], spec[idx+1:]
}
