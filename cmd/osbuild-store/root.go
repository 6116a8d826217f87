package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"

	exportcmd "github.com/arvimal/osbuild/cmd/osbuild-store/export"
	fetchcmd "github.com/arvimal/osbuild/cmd/osbuild-store/fetch"
	indexcmd "github.com/arvimal/osbuild/cmd/osbuild-store/index"
	servecmd "github.com/arvimal/osbuild/cmd/osbuild-store/serve"
	verifycmd "github.com/arvimal/osbuild/cmd/osbuild-store/verify"
	"github.com/arvimal/osbuild/pkg/version"
)

func main() {
	var verbose bool
	var cpuProfilePath string
	var memProfilePath string
	var stopProfiling func() error

	cmd := &cobra.Command{
		Use:     "osbuild-store",
		Short:   "osbuild-store - content-addressed source cache",
		Version: version.Version(),
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			if verbose {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
			if stopProfiling != nil {
				return nil
			}
			var err error
			stopProfiling, err = startProfiling(cpuProfilePath, memProfilePath)
			return err
		},
		PersistentPostRunE: func(c *cobra.Command, args []string) error {
			if stopProfiling == nil {
				return nil
			}
			err := stopProfiling()
			stopProfiling = nil
			return err
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&cpuProfilePath, "cpuprofile", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&memProfilePath, "memprofile", "", "Write heap profile to file at end")

	cmd.AddCommand(fetchcmd.GetCommand())
	cmd.AddCommand(exportcmd.GetCommand())
	cmd.AddCommand(verifycmd.GetCommand())
	cmd.AddCommand(indexcmd.GetCommand())
	cmd.AddCommand(servecmd.GetCommand())

	if err := cmd.Execute(); err != nil {
		if stopProfiling != nil {
			if stopErr := stopProfiling(); stopErr != nil {
				slog.Error("failed to stop profiling", "err", stopErr)
			}
		}
		slog.Error("error", "err", err)
		os.Exit(1)
	}
}

func startProfiling(cpuProfilePath, memProfilePath string) (func() error, error) {
	var cpuFile *os.File
	if cpuProfilePath != "" {
		f, err := os.Create(cpuProfilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to create cpuprofile file: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to start CPU profile: %w", err)
		}
		cpuFile = f
	}

	return func() error {
		if cpuFile != nil {
			pprof.StopCPUProfile()
			if err := cpuFile.Close(); err != nil {
				return err
			}
		}
		if memProfilePath != "" {
			f, err := os.Create(memProfilePath)
			if err != nil {
				return fmt.Errorf("failed to create memprofile file: %w", err)
			}
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				_ = f.Close()
				return fmt.Errorf("failed to write heap profile: %w", err)
			}
			return f.Close()
		}
		return nil
	}, nil
}
