// Command vmctl is a teaching harness for the hashed-page-table
// virtual memory core: it boots a simulated machine, defines regions
// for a synthetic process, and drives faults from the command line so
// the whole stack (address space, HPT, frame pool, TLB) can be
// exercised and observed without writing Go.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hptvm/internal/vmcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vmctl",
		Short: "Drive a simulated hashed-page-table virtual memory core",
	}
	root.AddCommand(newDemoCmd())
	return root
}

func newDemoCmd() *cobra.Command {
	var (
		ramMB      int
		codePages  int
		heapPages  int
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Boot a simulated machine, define regions, and fault on each page once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(ramMB, codePages, heapPages, verbose)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&ramMB, "ram-mb", 16, "simulated RAM size in megabytes")
	flags.IntVar(&codePages, "code-pages", 4, "pages in the synthetic code region")
	flags.IntVar(&heapPages, "heap-pages", 8, "pages in the synthetic heap region")
	flags.BoolVarP(&verbose, "verbose", "v", false, "emit debug-level logging")
	return cmd
}

func runDemo(ramMB, codePages, heapPages int, verbose bool) error {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	k, err := vmcore.Bootstrap(ramMB<<20, vmcore.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	as, stackptr := defineSyntheticProcess(k, codePages, heapPages)
	logger.Sugar().Infof("synthetic process ready: %d regions, initial sp=0x%x", len(as.Regions()), stackptr)

	touchEveryPage(k, as)
	return nil
}
