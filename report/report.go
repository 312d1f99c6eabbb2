// Package report persists the regression's tabular results and archives the
// output directory.
package report

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/uvmreg/uvmreg/model"
)

// FileName is the report file written inside the output directory.
const FileName = "uvm_results.csv"

var header = []string{"Target", "Status", "Reason", "Log Path"}

// WriteCSV writes one row per processed test case, header first, to
// FileName under outputDir.
func WriteCSV(outputDir string, rows []model.ReportRow) (string, error) {
	path := filepath.Join(outputDir, FileName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write report header: %w", err)
	}
	for _, row := range rows {
		record := []string{row.Target, string(row.Status), row.Reason, row.LogPath}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("failed to write report row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("failed to flush report: %w", err)
	}
	return path, nil
}

// Archive packages the whole output directory into <dir>.zip next to it and
// returns the archive path. Paths inside the archive are relative to the
// directory.
func Archive(outputDir string) (string, error) {
	zipPath := outputDir + ".zip"
	f, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	err = filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}
		dst, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(dst, src)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", outputDir, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}
	return zipPath, nil
}
