package storage

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// Pruner removes heap snapshot files older than the retention window.
type Pruner struct {
	snapshotDir   string
	retentionDays int
	stopCh        chan struct{}
	doneCh        chan struct{}
}

var filenamePattern = regexp.MustCompile(`^heap-(\d+)\.pprof$`)

func NewPruner(snapshotDir string, retentionDays int) *Pruner {
	return &Pruner{
		snapshotDir:   snapshotDir,
		retentionDays: retentionDays,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

func (p *Pruner) Start() {
	go p.run()
}

func (p *Pruner) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *Pruner) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	p.Prune()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Prune()
		}
	}
}

// Prune deletes snapshot files whose embedded unix timestamp is past
// the retention cutoff.
func (p *Pruner) Prune() {
	entries, err := os.ReadDir(p.snapshotDir)
	if err != nil {
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -p.retentionDays)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		matches := filenamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 2 {
			continue
		}

		sec, err := strconv.ParseInt(matches[1], 10, 64)
		if err != nil {
			continue
		}

		if time.Unix(sec, 0).Before(cutoff) {
			os.Remove(filepath.Join(p.snapshotDir, entry.Name()))
		}
	}
}
