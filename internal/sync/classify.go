package sync

import (
	"context"
	"errors"
	"io/fs"

	"github.com/mschirtzinger/inksync/internal/archive"
	"github.com/mschirtzinger/inksync/internal/ocr"
	"github.com/mschirtzinger/inksync/internal/remote"
	"github.com/mschirtzinger/inksync/internal/render"
	"github.com/mschirtzinger/inksync/internal/types"
)

// Classify maps an adapter error to a *types.SyncError carrying one of the
// kinds in package types. Errors that are already classified are returned
// as is. Unrecognized errors get no kind and are not retried.
func Classify(key, op string, err error) error {
	if err == nil {
		return nil
	}
	var serr *types.SyncError
	if errors.As(err, &serr) {
		return serr
	}

	out := &types.SyncError{Key: key, Op: op, Err: err}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		out.Kind = types.ErrTransient
	default:
		out.Kind, out.Field = kindOf(err)
	}
	return out
}

func kindOf(err error) (error, string) {
	if apiErr, ok := remote.AsAPIError(err); ok {
		switch {
		case apiErr.IsAuth():
			return types.ErrAuth, ""
		case apiErr.IsTransient():
			return types.ErrTransient, ""
		default:
			// not found, validation and any other rejected request
			return types.ErrValidation, apiErr.Field
		}
	}

	var ocrErr *ocr.Error
	if errors.As(err, &ocrErr) {
		if ocrErr.Retryable {
			return types.ErrTransient, ""
		}
		return types.ErrValidation, ""
	}

	if errors.Is(err, render.ErrToolMissing) {
		return types.ErrValidation, ""
	}
	var renderErr *render.Error
	if errors.As(err, &renderErr) {
		if errors.Is(err, types.ErrLocalInput) {
			return types.ErrLocalInput, ""
		}
		return types.ErrTransient, ""
	}

	if archErr, ok := archive.AsError(err); ok {
		switch {
		case archErr.Retryable:
			return types.ErrTransient, ""
		case archErr.IsAuth():
			return types.ErrAuth, ""
		case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
			return types.ErrLocalInput, ""
		default:
			return types.ErrValidation, ""
		}
	}

	return types.Kind(err), ""
}
