// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/pkg/cryptoutil"
	"github.com/sage-x-project/sage/pkg/protocol"
	"github.com/sage-x-project/sage/pkg/watcher"
)

func (e *Engine) handleAuthOK(ctx context.Context, data []byte) error {
	var ok protocol.AuthOK
	if err := json.Unmarshal(data, &ok); err != nil {
		return err
	}

	e.mu.Lock()
	cred := e.cred
	key := e.key
	password := e.pendingPassword
	e.pendingPassword = ""
	e.mu.Unlock()

	if key == nil {
		salt, err := base64.StdEncoding.DecodeString(ok.VaultSalt)
		if err != nil {
			return fmt.Errorf("engine: decode vault salt: %w", err)
		}
		key = cryptoutil.DeriveKey(password, salt)
		cred.EncryptionKeyB64 = base64.StdEncoding.EncodeToString(key.Raw())
		cred.VaultSalt = ok.VaultSalt
	}
	cred.ServerID = ok.ServerID
	cred.AuthToken = ok.AuthToken
	cred.SetupComplete = true

	e.mu.Lock()
	e.key = key
	e.cred = cred
	e.mu.Unlock()

	if err := e.creds.Save(cred); err != nil {
		logger.Warn("engine: persist credentials failed", logger.Error(err))
	}

	e.setState(Syncing)
	return e.client.Send(protocol.SyncRequest{Type: protocol.TypeSyncRequest, LastSequence: cred.LastSequence})
}

func (e *Engine) handleAuthFail(data []byte) error {
	var fail protocol.AuthFail
	if err := json.Unmarshal(data, &fail); err != nil {
		return err
	}
	e.history.Record(HistoryEntry{Kind: ActivityError, Detail: fail.Reason, At: time.Now()})

	if fail.Reason == "Session revoked" {
		e.mu.Lock()
		e.cred = e.creds.ClearSession(e.cred)
		e.key = nil
		e.mu.Unlock()
		if err := e.creds.Save(e.cred); err != nil {
			logger.Warn("engine: persist cleared session failed", logger.Error(err))
		}
	}

	e.setState(Errored)
	return nil
}

func (e *Engine) handleSyncResponse(ctx context.Context, data []byte) error {
	var resp protocol.SyncResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return err
	}

	e.mu.Lock()
	key := e.key
	strategy := e.strategy
	e.mu.Unlock()
	if key == nil {
		return fmt.Errorf("engine: sync response with no vault key")
	}

	manifest, err := BuildManifest(e.vault, e.rules, key)
	if err != nil {
		return err
	}

	plan, err := Reconcile(manifest, resp, strategy, e.rules, key)
	if err != nil {
		return err
	}

	return e.runPlan(ctx, plan, resp.CurrentSequence, manifest)
}

// runPlan executes uploads/deletes (bounded concurrency C_up) then drains
// the download set through a sliding window of C_dl. The batch's sequence
// advances only if every upload, delete and download succeeded; any failure
// leaves the batch's sequence uncommitted so the next sync re-fetches the gap.
func (e *Engine) runPlan(ctx context.Context, plan *Plan, newSequence int64, manifest map[string]ManifestEntry) error {
	pathByFileID := make(map[string]string, len(manifest))
	for fileID, entry := range manifest {
		pathByFileID[fileID] = entry.Path
	}

	var batchFailures atomic.Int64
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(uploadConcurrency)
	for _, path := range plan.Uploads {
		path := path
		group.Go(func() error {
			if err := e.uploadFile(gctx, path); err != nil {
				batchFailures.Add(1)
				e.history.Record(HistoryEntry{Kind: ActivityError, Path: path, Detail: err.Error(), At: time.Now()})
				logger.Warn("engine: upload failed", logger.String("path", path), logger.Error(err))
			}
			return nil
		})
	}
	for _, fileID := range plan.ServerDeletes {
		fileID := fileID
		group.Go(func() error {
			if err := e.client.Send(protocol.FileDelete{Type: protocol.TypeFileDelete, FileID: fileID}); err != nil {
				batchFailures.Add(1)
				e.history.Record(HistoryEntry{Kind: ActivityError, Path: pathByFileID[fileID], Detail: err.Error(), At: time.Now()})
				logger.Warn("engine: delete failed", logger.String("fileId", fileID), logger.Error(err))
			}
			return nil
		})
	}
	for _, path := range plan.LocalDeletes {
		path := path
		group.Go(func() error {
			e.suppressAndForget(path)
			if err := e.vault.Remove(path); err != nil {
				batchFailures.Add(1)
				e.history.Record(HistoryEntry{Kind: ActivityError, Path: path, Detail: err.Error(), At: time.Now()})
				return nil
			}
			e.history.Record(HistoryEntry{Kind: ActivityDeleted, Path: path, At: time.Now()})
			return nil
		})
	}
	_ = group.Wait() // individual failures are recorded, never abort the batch

	failures := e.drainDownloads(ctx, plan.Downloads) + int(batchFailures.Load())
	if failures > 0 {
		logger.Warn("engine: sync batch completed with failures, sequence not advanced", logger.Int("count", failures))
	} else {
		e.mu.Lock()
		e.cred.LastSequence = newSequence
		cred := e.cred
		e.mu.Unlock()
		if err := e.creds.Save(cred); err != nil {
			logger.Warn("engine: persist sequence failed", logger.Error(err))
		}
	}

	e.setState(Idle)
	e.flushOfflineQueue(ctx)
	return nil
}

// drainDownloads dispatches fileIDs through the C_dl sliding window and
// blocks until every one completes (success or failure), returning the
// failure count.
func (e *Engine) drainDownloads(ctx context.Context, fileIDs []string) int {
	failures := 0
	pending := make([]*pendingDownload, 0, len(fileIDs))

	for _, fileID := range fileIDs {
		if err := e.downloadSem.Acquire(ctx, 1); err != nil {
			failures++
			continue
		}
		pd := &pendingDownload{fileID: fileID, done: make(chan struct{})}
		e.downloadMu.Lock()
		e.downloadFIFO = append(e.downloadFIFO, pd)
		e.downloadMu.Unlock()
		pending = append(pending, pd)

		if err := e.client.Send(protocol.FileDownload{Type: protocol.TypeFileDownload, FileID: fileID}); err != nil {
			pd.failed = true
			close(pd.done)
			e.downloadSem.Release(1)
		}
	}

	for _, pd := range pending {
		select {
		case <-pd.done:
		case <-time.After(downloadTimeout):
			pd.failed = true
		}
		if pd.failed {
			failures++
		}
	}
	return failures
}

// applyDownload decrypts blob under key and writes it to the vault at the
// path recovered from the header's encrypted metadata, honoring exclusion
// policy and last-write-wins against the local file's current mtime on
// ingress.
func (e *Engine) applyDownload(pd *pendingDownload, blob []byte) error {
	e.mu.Lock()
	key := e.key
	e.mu.Unlock()

	path, err := decodeMetaPath(pd.meta.EncryptedMeta, key)
	if err != nil {
		return err
	}
	if !e.rules.Allowed(path) {
		return nil
	}
	if localMtime, ok := e.vault.Stat(path); ok && localMtime > pd.meta.Mtime {
		return nil
	}

	plaintext, err := cryptoutil.DecryptBlob(blob, key)
	if err != nil {
		return err
	}

	e.suppressAndForget(path)
	if err := e.vault.Write(path, plaintext, pd.meta.Mtime); err != nil {
		return err
	}
	e.history.Record(HistoryEntry{Kind: ActivityUploaded, Path: path, At: time.Now()})
	return nil
}

func (e *Engine) handleDownloadHeader(data []byte) error {
	var hdr protocol.FileDownloadResponse
	if err := json.Unmarshal(data, &hdr); err != nil {
		return err
	}
	e.downloadMu.Lock()
	for _, pd := range e.downloadFIFO {
		if pd.fileID == hdr.FileID && pd.meta.FileID == "" {
			pd.meta = hdr
			break
		}
	}
	e.downloadMu.Unlock()
	return nil
}

func (e *Engine) handleUploadAck(data []byte) error {
	var ack protocol.FileUploadAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return err
	}
	e.mu.Lock()
	e.cred.LastSequence = ack.Sequence
	cred := e.cred
	e.mu.Unlock()
	if err := e.creds.Save(cred); err != nil {
		logger.Warn("engine: persist ack sequence failed", logger.Error(err))
	}
	return nil
}

func (e *Engine) handlePeerChanged(data []byte) error {
	var msg protocol.FileChanged
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	e.mu.Lock()
	key := e.key
	e.mu.Unlock()
	path, err := decodeMetaPath(msg.EncryptedMeta, key)
	if err != nil {
		return err
	}
	if !e.rules.Allowed(path) {
		return nil
	}
	if localMtime, ok := e.vault.Stat(path); ok && localMtime > msg.Mtime {
		// Local edit is newer than the peer's change; skip the download
		// instead of fetching a blob applyDownload would discard anyway.
		return nil
	}
	return e.client.Send(protocol.FileDownload{Type: protocol.TypeFileDownload, FileID: msg.FileID})
}

func (e *Engine) handlePeerRemoved(data []byte) error {
	var msg protocol.FileRemoved
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	// The server only identifies the removed file by its opaque ID; there
	// is no local path to resolve without a manifest lookup, so deletion
	// of peer-removed files is reconciled on the next full/incremental
	// SYNC_RESPONSE rather than applied eagerly here.
	e.mu.Lock()
	e.cred.LastSequence = msg.Sequence
	cred := e.cred
	e.mu.Unlock()
	return e.creds.Save(cred)
}

// uploadFile reads path, encrypts its contents and metadata, and sends the
// paired header+binary under sendMu so nothing else interleaves between
// them on the wire.
func (e *Engine) uploadFile(ctx context.Context, path string) error {
	e.mu.Lock()
	key := e.key
	e.mu.Unlock()

	plaintext, err := e.vault.Read(path)
	if err != nil {
		return err
	}
	blob, err := cryptoutil.EncryptBlob(plaintext, key)
	if err != nil {
		return err
	}
	metaEnc, err := encodeMeta(path, key)
	if err != nil {
		return err
	}

	fileID := cryptoutil.DeriveFileID(path, key)
	hdr := protocol.FileUpload{
		Type:          protocol.TypeFileUpload,
		FileID:        fileID,
		EncryptedMeta: metaEnc,
		Mtime:         time.Now().UnixMilli(),
		Size:          int64(len(plaintext)),
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if err := e.client.Send(hdr); err != nil {
		return err
	}
	return e.client.SendBinary(blob)
}

func (e *Engine) suppressAndForget(path string) {
	if e.watch != nil {
		e.watch.Suppress(path)
	}
}

// HandleLocalChange is the watcher→engine entry point. When Idle, the
// change executes immediately; otherwise it joins the offline queue for
// replay on the next transition to Idle.
func (e *Engine) HandleLocalChange(ctx context.Context, c watcher.Change) {
	qc := QueuedChange{Path: c.Path, OldPath: c.OldPath}
	switch c.Type {
	case watcher.Create:
		qc.Kind = ChangeCreate
	case watcher.Modify:
		qc.Kind = ChangeModify
	case watcher.Delete:
		qc.Kind = ChangeDelete
	case watcher.Rename:
		qc.Kind = ChangeRename
	}

	if e.State() != Idle {
		e.offline.Push(qc)
		e.history.Record(HistoryEntry{Kind: ActivityPending, Path: c.Path, At: time.Now()})
		return
	}
	e.applyLocalChange(ctx, qc)
}

func (e *Engine) applyLocalChange(ctx context.Context, qc QueuedChange) {
	switch qc.Kind {
	case ChangeCreate, ChangeModify:
		if err := e.uploadFile(ctx, qc.Path); err != nil {
			e.history.Record(HistoryEntry{Kind: ActivityError, Path: qc.Path, Detail: err.Error(), At: time.Now()})
			return
		}
		e.history.Record(HistoryEntry{Kind: ActivityUploaded, Path: qc.Path, At: time.Now()})
	case ChangeDelete:
		e.mu.Lock()
		key := e.key
		e.mu.Unlock()
		fileID := cryptoutil.DeriveFileID(qc.Path, key)
		if err := e.client.Send(protocol.FileDelete{Type: protocol.TypeFileDelete, FileID: fileID}); err != nil {
			e.history.Record(HistoryEntry{Kind: ActivityError, Path: qc.Path, Detail: err.Error(), At: time.Now()})
			return
		}
		e.history.Record(HistoryEntry{Kind: ActivityDeleted, Path: qc.Path, At: time.Now()})
	case ChangeRename:
		e.applyLocalChange(ctx, QueuedChange{Kind: ChangeDelete, Path: qc.OldPath})
		e.applyLocalChange(ctx, QueuedChange{Kind: ChangeCreate, Path: qc.Path})
	}
}

func (e *Engine) flushOfflineQueue(ctx context.Context) {
	changes := e.offline.Drain()
	for i, qc := range changes {
		if e.State() != Idle {
			e.offline.Requeue(changes[i:])
			return
		}
		e.applyLocalChange(ctx, qc)
	}
}

// Preview computes the same reconciliation Plan a sync would apply,
// without executing it, so the caller can show the user what would
// happen before committing or discarding.
func (e *Engine) Preview(ctx context.Context, resp protocol.SyncResponse) (*Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()

	e.mu.Lock()
	key := e.key
	strategy := e.strategy
	e.mu.Unlock()
	if key == nil {
		return nil, fmt.Errorf("engine: preview requires an established vault key")
	}

	manifest, err := BuildManifest(e.vault, e.rules, key)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return Reconcile(manifest, resp, strategy, e.rules, key)
}
