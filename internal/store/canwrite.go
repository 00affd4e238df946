package store

import (
	"errors"
	"path"
	"strings"
	"time"

	"github.com/mkdir700/pi-team/internal/fsio"
	"github.com/mkdir700/pi-team/internal/model"
)

// CanWrite answers whether an agent currently holds a lease covering the
// given path. The answer is always structured; denials carry a reason, and
// only team/agent lookup problems surface as errors.
func (s *Store) CanWrite(teamID, agentID, rawPath string) (model.CanWriteResult, error) {
	deny := func(reason string) model.CanWriteResult {
		return model.CanWriteResult{Allow: false, Reason: reason}
	}
	if !model.ValidID(agentID) {
		return deny(""), model.Invalid(model.CodeInvalidAgentID, "agent id %q is not allowed", agentID)
	}
	dir, err := s.existingTeamDir(teamID)
	if err != nil {
		return deny(""), err
	}

	probe, reason := normalizeProbe(rawPath)
	if reason != "" {
		return deny(reason), nil
	}
	if _, err := fsio.SafeJoin(s.root, probe); err != nil {
		var me *model.Error
		if errors.As(err, &me) {
			return deny(model.ReasonPathTraversal), nil
		}
		return deny(""), err
	}

	tasks, err := s.listTasks(dir)
	if err != nil {
		return deny(""), err
	}
	now := time.Now()
	for _, t := range tasks {
		if t.Status != model.StatusInProgress || t.Lease == nil {
			continue
		}
		if t.Lease.Holder != agentID || t.Lease.Expired(now) {
			continue
		}
		for _, r := range t.Resources {
			if model.ResourceCovers(r, probe) {
				return model.CanWriteResult{Allow: true, Reason: model.ReasonLeaseActive}, nil
			}
		}
	}
	return deny(model.ReasonNoLease), nil
}

// normalizeProbe cleans a probe path the way task resources are normalized,
// except that "." (the workspace root itself) stays a legal probe. The second
// return value is a denial reason, empty when the path is usable.
func normalizeProbe(raw string) (string, string) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", model.ReasonInvalidPath
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", model.ReasonPathTraversal
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", model.ReasonPathTraversal
		}
	}
	p = path.Clean(p)
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", model.ReasonPathTraversal
	}
	if p == "" {
		return "", model.ReasonInvalidPath
	}
	return p, ""
}
