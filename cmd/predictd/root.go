package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"predictd/internal/bootstrap"
	"predictd/internal/config"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "predictd",
		Short:         "Serve predictions from interchangeable ONNX models, one resident at a time",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newModelsCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "predictd", version)
			return err
		},
	}
}

func newModelsCmd() *cobra.Command {
	var scan bool
	cmd := &cobra.Command{
		Use:     "models",
		Short:   "List configured models and their resolved artifact paths",
		Example: "  predictd models --config predictd.yaml\n  predictd models --scan --models-dir ./models",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := config.Resolve(v)
			if err != nil {
				return err
			}
			if scan {
				return printScan(cmd.OutOrStdout(), cfg.ModelsDir)
			}
			return printModels(cmd.OutOrStdout(), cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&scan, "scan", false, "List every .onnx artifact under the models dir instead")
	return cmd
}

func printModels(w io.Writer, cfg config.Config) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tPATH\tFOUND")
	models := append([]config.Model(nil), cfg.Models...)
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	for _, m := range models {
		path, err := bootstrap.ResolvePath(cfg.ModelsDir, m.Name, m.Path)
		found := "yes"
		if err != nil {
			path, found = m.Path, "no"
		} else if _, err := os.Stat(path); err != nil {
			found = "no"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, m.Kind, path, found)
	}
	return tw.Flush()
}

func printScan(w io.Writer, dir string) error {
	paths, err := bootstrap.ScanDir(dir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if _, err := fmt.Fprintln(w, p); err != nil {
			return err
		}
	}
	return nil
}
