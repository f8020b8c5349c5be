package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chataide/internal/config"
)

// backupSet maps archive names to the local files they come from.
type backupSet struct {
	cfgPath   string
	dbPath    string
	sitesPath string
	prompt    string
}

func resolveBackupSet() backupSet {
	cfgPath := resolveConfigPath()
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		cfg = config.Defaults()
		cfg.Audit.DBPath = config.ExpandPath(cfg.Audit.DBPath)
		cfg.Sites.OverridesFile = config.ExpandPath(cfg.Sites.OverridesFile)
		cfg.Server.PromptFile = config.ExpandPath(cfg.Server.PromptFile)
	}
	return backupSet{
		cfgPath:   cfgPath,
		dbPath:    cfg.Audit.DBPath,
		sitesPath: cfg.Sites.OverridesFile,
		prompt:    cfg.Server.PromptFile,
	}
}

// files lists the existing files to archive.
func (b backupSet) files() []string {
	candidates := []string{b.cfgPath, b.dbPath, b.dbPath + "-wal", b.dbPath + "-shm", b.sitesPath, b.prompt}
	var out []string
	for _, f := range candidates {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// target returns where an archived file is restored to.
func (b backupSet) target(name string) string {
	base := filepath.Base(name)
	switch {
	case base == filepath.Base(b.cfgPath):
		return b.cfgPath
	case strings.HasSuffix(base, ".db"):
		return b.dbPath
	case strings.HasSuffix(base, ".db-wal"):
		return b.dbPath + "-wal"
	case strings.HasSuffix(base, ".db-shm"):
		return b.dbPath + "-shm"
	case b.sitesPath != "" && base == filepath.Base(b.sitesPath):
		return b.sitesPath
	case b.prompt != "" && base == filepath.Base(b.prompt):
		return b.prompt
	default:
		return filepath.Join(filepath.Dir(b.cfgPath), base)
	}
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create a backup of chataide data (config, audit journal, selectors, prompt)",
		Long: `Creates a compressed .tar.gz archive containing the configuration file,
the audit database, the site selector overrides and the system prompt.
The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			set := resolveBackupSet()

			if outputPath == "" {
				backupDir := filepath.Join(filepath.Dir(set.cfgPath), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("chataide-backup-%s.tar.gz", ts))
			}

			files := set.files()
			if len(files) == 0 {
				return fmt.Errorf("no files to backup (config: %s, db: %s)", set.cfgPath, set.dbPath)
			}

			if err := createTarGz(outputPath, files); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(files))
			for _, f := range files {
				var size uint64
				if info, err := os.Stat(f); err == nil {
					size = uint64(info.Size())
				}
				fmt.Printf("  - %s (%s)\n", filepath.Base(f), humanize.Bytes(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <config dir>/backups/chataide-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var inputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Restore chataide data from a backup archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify a backup file: chataide restore <file.tar.gz>")
			}

			set := resolveBackupSet()
			if !force && len(set.files()) > 0 {
				fmt.Printf("WARNING: This will overwrite existing data.\n")
				fmt.Printf("  Config:   %s\n", set.cfgPath)
				fmt.Printf("  Database: %s\n", set.dbPath)
				fmt.Printf("Use --force to skip this warning.\n")
				return fmt.Errorf("restore aborted (use --force to proceed)")
			}

			restored, err := extractTarGz(inputPath, set.target)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", inputPath)
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

// createTarGz creates a .tar.gz archive from the given files.
func createTarGz(outputPath string, files []string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for _, filePath := range files {
		if err := addFileToTar(tarWriter, filePath); err != nil {
			return fmt.Errorf("add %s: %w", filePath, err)
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(filePath)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz writes every regular file in the archive to target(name).
func extractTarGz(archivePath string, target func(name string) string) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		targetPath := target(header.Name)
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return nil, err
		}
		outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", targetPath, err)
		}
		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", targetPath, err)
		}
		outFile.Close()
		restored = append(restored, targetPath)
	}
	return restored, nil
}
