package store

import (
	"context"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// IntegrityReport describes how the index and the files on disk disagree.
type IntegrityReport struct {
	Sessions int `json:"sessions"`
	// MissingFiles lists ids present in the index whose encrypted file is gone.
	MissingFiles []string `json:"missingFiles"`
	// OrphanFiles lists encrypted files that no index entry refers to.
	OrphanFiles []string `json:"orphanFiles"`
}

// Consistent reports whether index and directory agree.
func (r *IntegrityReport) Consistent() bool {
	return len(r.MissingFiles) == 0 && len(r.OrphanFiles) == 0
}

// Check compares the index with the directory contents. It only reports; nothing is
// repaired.
func (s *Store) Check(ctx context.Context) (*IntegrityReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, newError(CodeIO, err, "failed to list store directory")
	}

	onDisk := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), blobExt) {
			continue
		}
		onDisk[strings.TrimSuffix(e.Name(), blobExt)] = true
	}

	report := &IntegrityReport{
		Sessions:     len(idx.Sessions),
		MissingFiles: []string{},
		OrphanFiles:  []string{},
	}
	for _, r := range idx.Sessions {
		if onDisk[r.ID] {
			delete(onDisk, r.ID)
			continue
		}
		report.MissingFiles = append(report.MissingFiles, r.ID)
	}
	for id := range onDisk {
		report.OrphanFiles = append(report.OrphanFiles, id+blobExt)
	}
	sort.Strings(report.OrphanFiles)

	if !report.Consistent() {
		s.log.Warn("Session store is inconsistent.",
			zap.Strings("missing_files", report.MissingFiles),
			zap.Strings("orphan_files", report.OrphanFiles))
	}
	return report, nil
}
