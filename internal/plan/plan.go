// Package plan decides what to do with one local notebook given the remote
// record synced from it, if any.
//
// Content re-processing (rendering, recognition, image upload) is expensive
// and only happens when the local modification time moved past the remote
// one or the page count disagrees. Tags are compared on every run, because
// tag edits on the tablet do not always bump the modification time.
package plan

import (
	"fmt"
	"strings"

	"github.com/mschirtzinger/inksync/internal/types"
)

// Reasons reported for plans.
const (
	ReasonNoRemote = "no remote record"
	ReasonUpToDate = "up to date"
)

// Plan computes the sync plan for local against remote. It performs no I/O.
// A nil remote means the notebook has never been synced.
func Plan(local *types.Notebook, remote *types.RemoteRecord) types.Plan {
	if remote == nil {
		return types.Plan{
			Key:    local.Key,
			Action: types.ActionCreate,
			Reason: ReasonNoRemote,
			Diff: types.Diff{
				TagsChanged:    len(local.Tags) > 0,
				ContentChanged: true,
				NeedsReupload:  true,
			},
		}
	}

	var reasons []string

	localMod := types.NormalizeTime(local.ModifiedAt)
	remoteMod := types.NormalizeTime(remote.ModifiedAt)
	newer := localMod.After(remoteMod)
	if newer {
		reasons = append(reasons, "local modified after remote")
	}

	pagesDiffer := local.PageCount() != remote.PageCount
	if pagesDiffer {
		reasons = append(reasons, fmt.Sprintf("page count %d, remote has %d", local.PageCount(), remote.PageCount))
	}

	tagsChanged := !types.SameTags(local.Tags, remote.Tags)
	if tagsChanged {
		reasons = append(reasons, "tags changed")
	}

	contentChanged := newer || pagesDiffer
	if !contentChanged && !tagsChanged {
		return types.Plan{
			Key:    local.Key,
			Action: types.ActionSkip,
			Reason: ReasonUpToDate,
			Remote: remote,
		}
	}

	return types.Plan{
		Key:    local.Key,
		Action: types.ActionUpdate,
		Reason: strings.Join(reasons, ", "),
		Diff: types.Diff{
			TagsChanged:    tagsChanged,
			ContentChanged: contentChanged,
			NeedsReupload:  contentChanged,
		},
		Remote: remote,
	}
}
