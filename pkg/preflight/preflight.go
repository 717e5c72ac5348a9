// Package preflight checks which store capabilities a credential has
// before any real work starts.
//
// Read-safe checks never mutate the store. The write probe uploads one
// tiny object, waits for it to activate and always deletes it again.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/3leaps/filecast/pkg/activation"
	"github.com/3leaps/filecast/pkg/output"
	"github.com/3leaps/filecast/pkg/store"
)

// Mode defines how aggressive preflight checks are.
type Mode string

const (
	ModeReadSafe   Mode = "read-safe"
	ModeWriteProbe Mode = "write-probe"
)

// Capability names are stable strings used in JSONL output.
const (
	CapStoreList     = "store.list"
	CapStoreGet      = "store.get"
	CapStoreUpload   = "store.upload"
	CapStoreActivate = "store.activate"
	CapStoreDelete   = "store.delete"
)

// DefaultProbePrefix is the display-name prefix of write-probe objects.
const DefaultProbePrefix = "_filecast/preflight-"

// ErrUnsupported indicates a store that lacks a capability the mode needs.
var ErrUnsupported = errors.New("store does not support capability")

// Waiter drives uploaded objects to a terminal status.
// *activation.Poller satisfies it.
type Waiter interface {
	Run(ctx context.Context, ids []string) (*activation.Result, error)
}

// Spec controls how preflight checks are executed.
type Spec struct {
	Mode Mode

	// ProbePrefix overrides DefaultProbePrefix.
	ProbePrefix string

	// Waiter checks probe activation. Nil skips the activation check.
	Waiter Waiter
}

// Run performs the checks for spec.Mode, stopping at the first denied
// capability. The returned record is never nil and lists every check
// attempted so far.
//
// Ordering: list, get(random), then for write-probe upload, activate and
// delete. A successfully uploaded probe is deleted even when activation
// fails.
func Run(ctx context.Context, s store.Store, spec Spec) (*output.PreflightRecord, error) {
	if spec.Mode == "" {
		spec.Mode = ModeReadSafe
	}
	rec := &output.PreflightRecord{
		Mode:    string(spec.Mode),
		Results: []output.PreflightCheckResult{},
	}

	switch spec.Mode {
	case ModeReadSafe, ModeWriteProbe:
	default:
		return rec, fmt.Errorf("unknown preflight mode %q", spec.Mode)
	}

	if err := readSafe(ctx, s, rec); err != nil {
		return rec, err
	}
	if spec.Mode == ModeWriteProbe {
		return rec, writeProbe(ctx, s, spec, rec)
	}
	return rec, nil
}

func readSafe(ctx context.Context, s store.Store, rec *output.PreflightRecord) error {
	const listMethod = "List(pageSize=1)"
	if _, err := s.List(ctx, store.ListOptions{PageSize: 1}); err != nil {
		rec.Results = append(rec.Results, denied(CapStoreList, listMethod, err))
		return err
	}
	rec.Results = append(rec.Results, allowed(CapStoreList, listMethod))

	const getMethod = "Get(random)"
	probeID := "files/filecast-preflight-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	_, err := s.Get(ctx, probeID)
	if err != nil && !store.IsNotFound(err) {
		rec.Results = append(rec.Results, denied(CapStoreGet, getMethod, err))
		return err
	}
	rec.Results = append(rec.Results, allowed(CapStoreGet, getMethod))
	return nil
}

func writeProbe(ctx context.Context, s store.Store, spec Spec, rec *output.PreflightRecord) error {
	up, ok := s.(store.Uploader)
	if !ok {
		err := fmt.Errorf("%w: upload", ErrUnsupported)
		rec.Results = append(rec.Results, denied(CapStoreUpload, "Upload", err))
		return err
	}
	del, ok := s.(store.Deleter)
	if !ok {
		err := fmt.Errorf("%w: delete", ErrUnsupported)
		rec.Results = append(rec.Results, denied(CapStoreDelete, "Delete", err))
		return err
	}

	prefix := spec.ProbePrefix
	if prefix == "" {
		prefix = DefaultProbePrefix
	}
	name := prefix + uuid.NewString() + ".txt"
	body := "filecast preflight probe\n"

	const uploadMethod = "Upload(probe)"
	obj, err := up.Upload(ctx, store.UploadRequest{
		DisplayName: name,
		MIMEType:    "text/plain",
		Body:        strings.NewReader(body),
		Size:        int64(len(body)),
	})
	if err != nil {
		rec.Results = append(rec.Results, denied(CapStoreUpload, uploadMethod, err))
		return err
	}
	uploaded := allowed(CapStoreUpload, uploadMethod)
	uploaded.Detail = obj.ID
	rec.Results = append(rec.Results, uploaded)

	var firstErr error
	if spec.Waiter != nil {
		firstErr = checkActivation(ctx, spec.Waiter, obj.ID, rec)
	}

	// The probe must not outlive a cancelled run.
	delCtx := context.WithoutCancel(ctx)
	const deleteMethod = "Delete(probe)"
	res, err := del.Delete(delCtx, obj.ID)
	switch {
	case err != nil:
		rec.Results = append(rec.Results, denied(CapStoreDelete, deleteMethod, err))
		if firstErr == nil {
			firstErr = err
		}
	default:
		r := allowed(CapStoreDelete, deleteMethod)
		if res.Unexpected() {
			r.Detail = "unexpected response body: " + res.Body
		}
		rec.Results = append(rec.Results, r)
	}
	return firstErr
}

func checkActivation(ctx context.Context, w Waiter, id string, rec *output.PreflightRecord) error {
	const method = "Get(probe) until terminal"
	res, err := w.Run(ctx, []string{id})
	if err != nil {
		rec.Results = append(rec.Results, denied(CapStoreActivate, method, err))
		return err
	}
	for _, e := range res.Entries {
		if e.Status == activation.StatusActive {
			continue
		}
		err := e.Err
		if err == nil {
			err = fmt.Errorf("probe %s ended %s", id, e.Status)
		}
		r := denied(CapStoreActivate, method, err)
		if e.Status == activation.StatusTimeout {
			r.ErrorCode = output.ErrCodeTimeout
		}
		rec.Results = append(rec.Results, r)
		return err
	}
	rec.Results = append(rec.Results, allowed(CapStoreActivate, method))
	return nil
}

func allowed(capability, method string) output.PreflightCheckResult {
	return output.PreflightCheckResult{Capability: capability, Allowed: true, Method: method}
}

func denied(capability, method string, err error) output.PreflightCheckResult {
	return output.PreflightCheckResult{
		Capability: capability,
		Allowed:    false,
		Method:     method,
		ErrorCode:  output.ErrorCode(err),
		Detail:     err.Error(),
	}
}
