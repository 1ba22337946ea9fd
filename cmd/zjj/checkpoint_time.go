package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/lprior-repo/zjj/internal/integrity"
)

var timeParser = newTimeParser()

func newTimeParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// resolveCheckpointRef accepts either a literal backup id or a natural
// language time reference ("2 hours ago", "yesterday noon") and returns the
// matching backup id: the newest backup at or before the resolved time.
func resolveCheckpointRef(backups []integrity.BackupMetadata, ref string) (string, error) {
	for _, b := range backups {
		if b.ID == ref {
			return b.ID, nil
		}
	}

	result, err := timeParser.Parse(ref, time.Now())
	if err != nil || result == nil {
		return "", fmt.Errorf("%q is neither a known checkpoint id nor a recognizable time", ref)
	}

	var best *integrity.BackupMetadata
	for i, b := range backups {
		if b.CreatedAt.After(result.Time) {
			continue
		}
		if best == nil || b.CreatedAt.After(best.CreatedAt) {
			best = &backups[i]
		}
	}
	if best == nil {
		return "", fmt.Errorf("no checkpoint found at or before %s", result.Time.Format(time.RFC3339))
	}
	return best.ID, nil
}
