package engine

import (
	"context"
	"errors"
	"time"

	"vaultsync/internal/logger"
	"vaultsync/internal/reconcile"
	"vaultsync/internal/tree"

	"go.uber.org/zap"
)

type Report struct {
	Downloaded int           `json:"downloaded"`
	Uploaded   int           `json:"uploaded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
}

// SyncAll runs one full pass: rescan, download what the remote side
// changed, upload what the local side changed, then persist the meta.
// Downloads continue past failures; uploads stop at the first one.
func (e *Engine) SyncAll(ctx context.Context) (Report, error) {
	start := time.Now()
	var report Report

	if err := e.Rescan(); err != nil {
		return report, err
	}

	e.mu.Lock()
	var downloads []reconcile.DownloadItem
	for _, it := range reconcile.AllDownloadCandidates(e.meta, e.local) {
		if e.ignored(it.Path, tree.Find(e.local, it.Path)) {
			report.Skipped++
			continue
		}
		it.Node = it.Node.Clone()
		downloads = append(downloads, it)
	}

	uploads, skipped := e.autoUploadsLocked(e.local, "")
	report.Skipped += skipped
	e.mu.Unlock()

	logger.Log.Info("sync pass started",
		zap.Int("downloads", len(downloads)),
		zap.Int("uploads", len(uploads)),
		zap.Int("skipped", report.Skipped))

	failed := e.Download(ctx, downloads, nil)
	report.Downloaded = len(downloads) - failed
	report.Failed = failed

	uploaded, uploadErr := e.uploadItems(ctx, uploads, nil)
	report.Uploaded = uploaded
	if uploadErr != nil {
		report.Failed++
	}

	saveErr := e.SaveMeta(ctx)
	if err := e.SaveTree(); err != nil {
		logger.Log.Warn("failed to save tree cache", zap.Error(err))
	}
	if err := e.Refresh(); err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	logger.Log.Info("sync pass finished",
		zap.Int("downloaded", report.Downloaded),
		zap.Int("uploaded", report.Uploaded),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))

	return report, errors.Join(uploadErr, saveErr)
}
