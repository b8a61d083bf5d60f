// Copyright 2024 RelicForge. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
	xenv "github.com/xyproto/env/v2"

	carver "github.com/relicforge/dumpcarver"
	carverlog "github.com/relicforge/dumpcarver/log"
)

func prettyPrint(buf []byte) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, buf, "", "  "); err != nil {
		return string(buf)
	}
	return pretty.String()
}

func newLogger(verbose bool) *carverlog.Helper {
	level := carverlog.LevelWarn
	if verbose {
		level = carverlog.LevelDebug
	}
	return carverlog.NewHelper(carverlog.NewFilter(carverlog.NewStdLogger(os.Stderr), carverlog.FilterLevel(level)))
}

func dumpStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func openRun(path string, logger *carverlog.Helper) (*carver.DumpSource, *carver.MinidumpIndex, *carver.SignatureRegistry, error) {
	src, err := carver.OpenDumpFile(path, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	idx, err := carver.ParseMinidumpIndex(src, logger)
	if err != nil {
		src.Close()
		return nil, nil, nil, err
	}
	reg, err := carver.LoadSignatureRegistry()
	if err != nil {
		src.Close()
		return nil, nil, nil, err
	}
	return src, idx, reg, nil
}

func runCarve(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	outputRoot, _ := cmd.Flags().GetString("output")
	workers, _ := cmd.Flags().GetInt("workers")
	convert, _ := cmd.Flags().GetBool("convert")
	converterBin, _ := cmd.Flags().GetString("converter")

	logger := newLogger(verbose)
	path := args[0]

	src, idx, reg, err := openRun(path, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	opts := carver.RunOptions{
		OutputRoot:  xenv.Str("DUMPCARVER_OUTPUT_ROOT", outputRoot),
		DumpStem:    dumpStem(path),
		WorkerCount: workers,
		Logger:      logger,
	}
	if convert {
		opts.Converter = carver.NewSubprocessConverter(converterBin, 30*time.Second, logger)
		opts.ConvertKinds = map[string]bool{"ddx": true, "ddx_replacement": true}
	}

	run := carver.NewCarveRun(src, idx, reg, opts)
	manifest, diag, err := run.Execute(context.Background(), func(p float64) {
		if verbose {
			fmt.Fprintf(os.Stderr, "\rprogress: %.1f%%", p*100)
		}
	})
	if verbose {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil && err != carver.ErrCancelled {
		return err
	}

	manifestPath := filepath.Join(opts.OutputRoot, opts.DumpStem, "manifest.json")
	if mkErr := os.MkdirAll(filepath.Dir(manifestPath), 0o755); mkErr != nil {
		return mkErr
	}
	if wErr := manifest.WriteJSON(manifestPath); wErr != nil {
		return wErr
	}

	snap := diag.Snapshot()
	fmt.Printf("carved %d entries to %s\n", manifest.Len(), manifestPath)
	if snap.ConversionFailures > 0 || snap.WriteFailures > 0 {
		os.Exit(3) // partial: non-fatal conversion/write failures occurred
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)
	path := args[0]

	src, idx, reg, err := openRun(path, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	type summary struct {
		DumpLength  int64             `json:"dump_length"`
		IsMinidump  bool              `json:"is_minidump"`
		IsXbox360   bool              `json:"is_xbox360"`
		ModuleCount int               `json:"module_count"`
		RegionCount int               `json:"region_count"`
		Signatures  int               `json:"registered_signatures"`
		PerFormat   map[string]string `json:"per_format"`
	}
	s := summary{
		DumpLength:  src.Len(),
		IsMinidump:  idx.IsMinidump(),
		IsXbox360:   idx.IsXbox360(),
		ModuleCount: len(idx.Modules()),
		RegionCount: len(idx.Regions()),
		Signatures:  len(reg.All()),
		PerFormat:   map[string]string{},
	}
	for _, sig := range reg.All() {
		s.PerFormat[sig.ID] = fmt.Sprintf("%s -> %s%s", sig.Category, sig.OutputFolder, sig.Extension)
	}

	reader := carver.NewRuntimeStructReader(src, idx, logger)
	if bucketOff, count, found := reader.LocateEditorIDHashTable(); found {
		entries := reader.WalkEditorIDHashTable(bucketOff, count)
		reader.CalibrateInfoFormType(entries)
		ft, samples, calibrated := reader.CalibrationInfo()
		fmt.Printf("hash table: %d buckets, %d entries walked\n", count, len(entries))
		if calibrated {
			fmt.Printf("calibrated INFO form_type: 0x%02x (%d Topic samples)\n", ft, samples)
		}
	}

	buf, err := json.Marshal(s)
	if err != nil {
		return err
	}
	fmt.Println(prettyPrint(buf))
	return nil
}

func runReconstruct(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	outputRoot, _ := cmd.Flags().GetString("output")
	workers, _ := cmd.Flags().GetInt("workers")

	logger := newLogger(verbose)
	path := args[0]

	src, idx, reg, err := openRun(path, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	opts := carver.RunOptions{
		OutputRoot:  xenv.Str("DUMPCARVER_OUTPUT_ROOT", outputRoot),
		DumpStem:    dumpStem(path),
		WorkerCount: workers,
		Logger:      logger,
	}
	run := carver.NewCarveRun(src, idx, reg, opts)
	manifest, _, err := run.Execute(context.Background(), nil)
	if err != nil && err != carver.ErrCancelled {
		return err
	}

	records, runtimeDiag, err := carver.NewReconstructRun(src, idx, logger).Execute(manifest)
	if err != nil {
		return err
	}

	recordsPath := filepath.Join(opts.OutputRoot, opts.DumpStem, "records.json")
	if mkErr := os.MkdirAll(filepath.Dir(recordsPath), 0o755); mkErr != nil {
		return mkErr
	}
	buf, err := json.MarshalIndent(records.Records(), "", "  ")
	if err != nil {
		return err
	}
	if wErr := os.WriteFile(recordsPath, buf, 0o644); wErr != nil {
		return wErr
	}

	fmt.Printf("reconstructed %d records (%d unresolved targets, %d rejected) to %s\n",
		len(records.Records()), runtimeDiag.UnresolvedTargets, runtimeDiag.RejectedRecords, recordsPath)
	return nil
}

func runModules(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)
	path := args[0]

	src, idx, _, err := openRun(path, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	if !idx.IsMinidump() {
		fmt.Println("not a minidump container; no module list")
		return nil
	}
	buf, err := json.Marshal(idx.Modules())
	if err != nil {
		return err
	}
	fmt.Println(prettyPrint(buf))
	return nil
}

func main() {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "carvectl",
		Short: "Extracts game-content artefacts from Xbox 360 process memory dumps",
		Long:  "carvectl scans raw process dumps for known file-format signatures, carves recovered files, and reconstructs engine object records from the runtime heap.",
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	carveCmd := &cobra.Command{
		Use:   "carve <dump-file>",
		Short: "Extract files from one dump",
		Args:  cobra.ExactArgs(1),
		RunE:  runCarve,
	}
	carveCmd.Flags().String("output", "out", "output root directory")
	carveCmd.Flags().Int("workers", runtime.NumCPU(), "worker pool size")
	carveCmd.Flags().Bool("convert", false, "pipe DDX textures through the converter gateway")
	carveCmd.Flags().String("converter", xenv.Str("DUMPCARVER_CONVERTER", "ddx2dds"), "converter binary path")

	analyzeCmd := &cobra.Command{
		Use:   "analyze <dump-file>",
		Short: "Summarise dump structure without extraction",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}

	modulesCmd := &cobra.Command{
		Use:   "modules <dump-file>",
		Short: "List minidump modules",
		Args:  cobra.ExactArgs(1),
		RunE:  runModules,
	}

	reconstructCmd := &cobra.Command{
		Use:   "reconstruct <dump-file>",
		Short: "Carve, then reconstruct and merge engine object records",
		Long:  "reconstruct carves the dump like `carve`, walks the runtime editor-ID hash table to reconstruct engine form records, extracts ESM-fragment records from the carved esp/esm entries, and writes the SemanticMerger-joined result to records.json.",
		Args:  cobra.ExactArgs(1),
		RunE:  runReconstruct,
	}
	reconstructCmd.Flags().String("output", "out", "output root directory")
	reconstructCmd.Flags().Int("workers", runtime.NumCPU(), "worker pool size")

	rootCmd.AddCommand(carveCmd, analyzeCmd, modulesCmd, reconstructCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		if strings.Contains(err.Error(), "malformed") {
			os.Exit(1)
		}
		os.Exit(2)
	}
}
